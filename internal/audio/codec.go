package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("audio decode failed")

// DecodeError reports a malformed base64 PCM token.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode pcm16: %s: %v", e.Reason, e.Err)
	}
	return "decode pcm16: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// EncodePCM16 packs float samples as 16-bit little-endian PCM and returns the
// standard base64 text used on the wire.
func EncodePCM16(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM16(samples))
}

// DecodePCM16 is the exact inverse of EncodePCM16.
func DecodePCM16(token string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(raw)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("odd byte count %d", len(raw))}
	}
	samples, err := PCM16ToFloat(raw)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid pcm", Err: err}
	}
	return samples, nil
}
