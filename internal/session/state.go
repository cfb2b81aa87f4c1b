package session

import (
	"context"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
)

// sessionState is the tagged lifecycle state owned by the run loop. Each
// variant carries only the data valid in that state.
type sessionState interface {
	status() State
}

type idleState struct{}

type negotiatingState struct {
	cancel      context.CancelFunc
	deadline    *time.Timer
	stopPending bool
	stopReason  string
}

type activeState struct {
	transport Transport
	chunker   *audio.FrameChunker
	seq       int64
}

type closingState struct {
	reason string
}

type closedState struct {
	reason string
}

func (idleState) status() State         { return StateIdle }
func (*negotiatingState) status() State { return StateNegotiating }
func (*activeState) status() State      { return StateActive }
func (closingState) status() State      { return StateClosing }
func (closedState) status() State       { return StateClosed }
