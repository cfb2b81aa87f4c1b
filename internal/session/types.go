package session

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/config"
)

var (
	// ErrAlreadyExists is returned when a call id already has a session
	ErrAlreadyExists = errors.New("session already exists")
	// ErrNotFound is returned when no session exists for a call id
	ErrNotFound = errors.New("session not found")
	// ErrNegotiation wraps every failure to establish the AI leg
	ErrNegotiation = errors.New("negotiation failed")
)

// Telephony is the carrier side of a session. It is owned by the connection
// handler; sessions write to it but never close it.
type Telephony interface {
	WriteJSON(v interface{}) error
	IsOpen() bool
}

// Transport is an established AI-side media connection. Sessions own it and
// close it on teardown.
type Transport interface {
	// Send delivers normalized mono samples captured at rate
	Send(samples []float64, rate int) error
	// Frames yields audio produced by the AI. It is closed when the
	// transport ends for any reason.
	Frames() <-chan audio.Frame
	Close() error
}

// Negotiator establishes the AI leg for one call
type Negotiator interface {
	Negotiate(ctx context.Context, callID string) (Transport, error)
}

// State is the externally visible lifecycle state of a session
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options controls per-session audio and timing behaviour
type Options struct {
	TelephonySampleRate int
	AISampleRate        int
	FrameBytes          int           // bytes per outbound telephony frame
	MaxPendingFrames    int           // inbound media events awaiting processing
	MaxPendingAIFrames  int           // AI frames awaiting processing
	NegotiationTimeout  time.Duration // credential plus offer/answer budget
	Now                 func() time.Time
}

// OptionsFromConfig derives session options from service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	frameBytes := cfg.TelephonyFrameBytes
	if frameBytes == 0 {
		frameBytes = audio.FrameSize(cfg.TelephonySampleRate, cfg.FrameDurationMs)
	}

	return Options{
		TelephonySampleRate: cfg.TelephonySampleRate,
		AISampleRate:        cfg.AISampleRate,
		FrameBytes:          frameBytes,
		MaxPendingFrames:    cfg.MaxPendingFrames,
		MaxPendingAIFrames:  cfg.AIFrameQueueSize,
		NegotiationTimeout:  cfg.NegotiationTimeoutDuration(),
		Now:                 time.Now,
	}
}

func (o Options) withDefaults() Options {
	if o.TelephonySampleRate <= 0 {
		o.TelephonySampleRate = 8000
	}
	if o.AISampleRate <= 0 {
		o.AISampleRate = 8000
	}
	if o.FrameBytes <= 0 {
		o.FrameBytes = 160
	}
	if o.MaxPendingFrames <= 0 {
		o.MaxPendingFrames = 50
	}
	if o.MaxPendingAIFrames <= 0 {
		o.MaxPendingAIFrames = 100
	}
	if o.NegotiationTimeout <= 0 {
		o.NegotiationTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
