package audio

import "time"

// Frame is one quantum of PCM16LE audio. It is immutable once constructed;
// accessors hand out copies.
type Frame struct {
	data       []byte
	sampleRate int
	channels   int
	capturedAt time.Time
}

// NewFrame builds a mono frame from PCM16LE bytes. The input is copied.
func NewFrame(pcm []byte, sampleRate int, capturedAt time.Time) Frame {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return Frame{
		data:       data,
		sampleRate: sampleRate,
		channels:   1,
		capturedAt: capturedAt,
	}
}

// NewFrameFromSamples encodes normalized float samples into a mono frame.
func NewFrameFromSamples(samples []float64, sampleRate int, capturedAt time.Time) Frame {
	return Frame{
		data:       FloatToPCM16(samples),
		sampleRate: sampleRate,
		channels:   1,
		capturedAt: capturedAt,
	}
}

// Data returns a copy of the PCM16LE payload.
func (f Frame) Data() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// Len returns the payload size in bytes.
func (f Frame) Len() int { return len(f.data) }

func (f Frame) SampleRate() int { return f.sampleRate }

func (f Frame) Channels() int { return f.channels }

// CapturedAt is the zero time when the producer did not stamp the frame.
func (f Frame) CapturedAt() time.Time { return f.capturedAt }

// Samples decodes the payload into normalized float samples.
func (f Frame) Samples() ([]float64, error) {
	return PCM16ToFloat(f.data)
}

// Duration is the playback length of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.sampleRate <= 0 || f.channels <= 0 {
		return 0
	}
	samples := len(f.data) / (2 * f.channels)
	return time.Duration(samples) * time.Second / time.Duration(f.sampleRate)
}
