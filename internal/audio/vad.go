package audio

// VADConfig tunes the energy gate.
type VADConfig struct {
	// EnergyThreshold is the lowest RMS, on [-1,1] samples, that can count as speech.
	EnergyThreshold float64
	// NoiseRatio raises the threshold to this multiple of the tracked noise floor.
	NoiseRatio float64
	// HangoverFrames is the number of quiet frames that close a speech segment.
	HangoverFrames int
}

// DefaultVADConfig is tuned for 100ms frames.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.015,
		NoiseRatio:      3,
		HangoverFrames:  5,
	}
}

// noiseAdapt is how fast the noise floor follows quiet frames.
const noiseAdapt = 0.1

// VADEvent is the gate's verdict on one frame.
type VADEvent struct {
	Speaking bool
	Started  bool
	Ended    bool
}

// VADDetector is an energy gate over one student turn. Between segments it
// follows the background level, so a steady fan or hum does not open it.
type VADDetector struct {
	cfg VADConfig

	noiseFloor   float64
	calibrated   bool
	speaking     bool
	quietRun     int
	segments     int
	speechFrames int
	frames       int
}

func NewVADDetector(cfg VADConfig) *VADDetector {
	def := DefaultVADConfig()
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = def.EnergyThreshold
	}
	if cfg.NoiseRatio <= 0 {
		cfg.NoiseRatio = def.NoiseRatio
	}
	if cfg.HangoverFrames <= 0 {
		cfg.HangoverFrames = def.HangoverFrames
	}
	return &VADDetector{cfg: cfg}
}

// Threshold is the RMS a frame must exceed to count as speech right now.
func (v *VADDetector) Threshold() float64 {
	if adaptive := v.noiseFloor * v.cfg.NoiseRatio; adaptive > v.cfg.EnergyThreshold {
		return adaptive
	}
	return v.cfg.EnergyThreshold
}

// ProcessFrame classifies one frame. Empty frames change nothing.
func (v *VADDetector) ProcessFrame(samples []float32) VADEvent {
	if len(samples) == 0 {
		return VADEvent{Speaking: v.speaking}
	}
	v.frames++

	rms := CalculateRMS(samples)
	loud := rms > v.Threshold()

	var ev VADEvent
	switch {
	case loud:
		v.speechFrames++
		v.quietRun = 0
		if !v.speaking {
			v.speaking = true
			v.segments++
			ev.Started = true
		}
	case v.speaking:
		v.quietRun++
		if v.quietRun >= v.cfg.HangoverFrames {
			v.speaking = false
			v.quietRun = 0
			ev.Ended = true
		}
	}

	if !loud {
		if !v.calibrated {
			v.noiseFloor = rms
			v.calibrated = true
		} else {
			v.noiseFloor += (rms - v.noiseFloor) * noiseAdapt
		}
	}

	ev.Speaking = v.speaking
	return ev
}

// HeardSpeech reports whether any frame since the last Reset opened the gate.
func (v *VADDetector) HeardSpeech() bool {
	return v.segments > 0
}

// Segments is the number of separate speech segments heard.
func (v *VADDetector) Segments() int {
	return v.segments
}

// SpeechRatio is the share of frames that were speech, 0 before any frame.
func (v *VADDetector) SpeechRatio() float64 {
	if v.frames == 0 {
		return 0
	}
	return float64(v.speechFrames) / float64(v.frames)
}
