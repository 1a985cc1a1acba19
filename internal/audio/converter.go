package audio

import (
	"fmt"
	"math"
)

const (
	pcmPositiveScale = 0x7FFF
	pcmNegativeScale = 0x8000
)

// FloatToInt16 quantizes one float sample in [-1,1] to a signed 16-bit value.
// Negative samples scale by 0x8000 and positive by 0x7FFF so both ends of the
// int16 range are reachable. Out of range input is clamped.
func FloatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * pcmNegativeScale)
	}
	return int16(s * pcmPositiveScale)
}

// Int16ToFloat is the inverse of FloatToInt16.
func Int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / pcmNegativeScale
	}
	return float32(v) / pcmPositiveScale
}

// FloatToPCM16 converts float samples to 16-bit signed little-endian PCM bytes
func FloatToPCM16(samples []float32) []byte {
	pcmData := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := FloatToInt16(s)
		pcmData[i*2] = byte(v)
		pcmData[i*2+1] = byte(v >> 8)
	}
	return pcmData
}

// PCM16ToFloat converts 16-bit signed little-endian PCM bytes to float samples
func PCM16ToFloat(pcmData []byte) ([]float32, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d bytes", len(pcmData))
	}

	samples := make([]float32, len(pcmData)/2)
	for i := range samples {
		// Little-endian 16-bit signed integer
		v := int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
		samples[i] = Int16ToFloat(v)
	}
	return samples, nil
}

// Resample converts input from fromRate to toRate with linear interpolation.
// Equal rates return input itself. The output holds floor(len*toRate/fromRate)
// samples and never reads past the last input sample. There is no
// anti-aliasing filter, which is acceptable for voice-band speech.
func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return input
	}
	if len(input) == 0 || fromRate <= 0 || toRate <= 0 {
		return []float32{}
	}

	ratio := float64(fromRate) / float64(toRate)
	outputLength := int(int64(len(input)) * int64(toRate) / int64(fromRate))
	output := make([]float32, outputLength)
	last := len(input) - 1

	for i := range output {
		srcPos := float64(i) * ratio
		idx0 := int(srcPos)
		if idx0 > last {
			idx0 = last
		}
		idx1 := idx0 + 1
		if idx1 > last {
			idx1 = last
		}

		fraction := float32(srcPos - float64(idx0))
		output[i] = input[idx0] + (input[idx1]-input[idx0])*fraction
	}

	return output
}

// StreamResampler is Resample for a signal arriving in pieces. It carries
// the interpolation position and the last input sample across calls, so the
// output matches resampling the whole signal at once however it is split.
type StreamResampler struct {
	from, to int
	prev     float32
	primed   bool
	// pos is the next output's source position, in 1/to input samples,
	// counted from prev (or from the first sample before priming).
	pos int64
}

func NewStreamResampler(fromRate, toRate int) *StreamResampler {
	return &StreamResampler{from: fromRate, to: toRate}
}

// Process returns the output samples that the input seen so far fully
// determines. The newest input sample is held back until its successor
// arrives.
func (r *StreamResampler) Process(input []float32) []float32 {
	if r.from == r.to {
		return input
	}
	if len(input) == 0 || r.from <= 0 || r.to <= 0 {
		return []float32{}
	}

	buf := input
	if r.primed {
		buf = make([]float32, 0, len(input)+1)
		buf = append(buf, r.prev)
		buf = append(buf, input...)
	}
	last := int64(len(buf) - 1)
	to := int64(r.to)

	output := make([]float32, 0, int64(len(input))*to/int64(r.from)+1)
	for r.pos/to < last {
		idx0 := r.pos / to
		fraction := float32(r.pos%to) / float32(to)
		output = append(output, buf[idx0]+(buf[idx0+1]-buf[idx0])*fraction)
		r.pos += int64(r.from)
	}

	r.pos -= last * to
	r.prev = buf[last]
	r.primed = true
	return output
}

// CalculateRMS calculates the root mean square of float samples
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Level converts RMS to a meter value clamped to [0,1].
func Level(samples []float32) float64 {
	rms := CalculateRMS(samples)
	if rms > 1 {
		return 1
	}
	return rms
}
