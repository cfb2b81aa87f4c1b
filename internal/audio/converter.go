package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned when a PCM16 buffer does not hold whole samples.
var ErrOddLength = errors.New("pcm16 data length must be even")

// PCM16ToFloat decodes little-endian 16-bit samples into [-1, 1) floats
// using int16/32768.
func PCM16ToFloat(pcm []byte) ([]float64, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddLength, len(pcm))
	}

	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		samples[i] = float64(v) / 32768
	}
	return samples, nil
}

// FloatToPCM16 encodes normalized floats as little-endian 16-bit samples
// using round(clamp(x, -1, 1) * 32767). NaN encodes as silence.
func FloatToPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := floatToInt16(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

func floatToInt16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(s * 32767))
}

// EncodeMulaw converts PCM16LE audio to G.711 PCMU, one byte per sample.
func EncodeMulaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddLength, len(pcm))
	}

	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = linearToMulaw(sample)
	}
	return out, nil
}

// DecodeMulaw converts G.711 PCMU bytes to PCM16LE audio.
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		sample := mulawToLinear(b)
		out[i*2] = byte(sample)
		out[i*2+1] = byte(uint16(sample) >> 8)
	}
	return out
}

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// linearToMulaw is the ITU-T G.711 segment encoder.
func linearToMulaw(sample int16) byte {
	magnitude := int32(sample)
	var sign byte
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > mulawClip {
		magnitude = mulawClip
	}
	magnitude += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); magnitude&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((magnitude >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

func mulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)

	magnitude := ((mantissa << 3) + mulawBias) << exponent
	magnitude -= mulawBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS returns the root mean square of normalized samples.
func CalculateRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
