package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/protocol"
)

type fakeTelephony struct {
	mu       sync.Mutex
	open     bool
	messages []protocol.Message
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{open: true}
}

func (f *fakeTelephony) WriteJSON(v interface{}) error {
	msg, ok := v.(protocol.Message)
	if !ok {
		return errors.New("unexpected message type")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeTelephony) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTelephony) setOpen(open bool) {
	f.mu.Lock()
	f.open = open
	f.mu.Unlock()
}

func (f *fakeTelephony) marks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, m := range f.messages {
		if m.Event == protocol.EventMark {
			names = append(names, m.Mark.Name)
		}
	}
	return names
}

func (f *fakeTelephony) media() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.messages {
		if m.Event == protocol.EventMedia {
			out = append(out, m)
		}
	}
	return out
}

type fakeTransport struct {
	// When set, Send signals entered and then blocks until gate is closed
	gate    chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	sent   [][]float64
	rates  []int
	closed bool
	frames chan audio.Frame
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan audio.Frame, 16)}
}

func (t *fakeTransport) Send(samples []float64, rate int) error {
	if t.gate != nil {
		select {
		case t.entered <- struct{}{}:
		default:
		}
		<-t.gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	t.sent = append(t.sent, samples)
	t.rates = append(t.rates, rate)
	return nil
}

func (t *fakeTransport) Frames() <-chan audio.Frame {
	return t.frames
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.frames)
	})
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type fakeNegotiator struct {
	gate      chan struct{}
	ignoreCtx bool // wait on gate even after ctx ends
	sendGate  chan struct{}
	err       error

	mu         sync.Mutex
	transports []*fakeTransport
}

func (n *fakeNegotiator) Negotiate(ctx context.Context, callID string) (Transport, error) {
	if n.gate != nil && n.ignoreCtx {
		<-n.gate
	} else if n.gate != nil {
		select {
		case <-n.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n.err != nil {
		return nil, n.err
	}

	t := newFakeTransport()
	if n.sendGate != nil {
		t.gate = n.sendGate
		t.entered = make(chan struct{}, 1)
	}
	n.mu.Lock()
	n.transports = append(n.transports, t)
	n.mu.Unlock()
	return t, nil
}

func (n *fakeNegotiator) transport(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i >= len(n.transports) {
		return nil
	}
	return n.transports[i]
}

func testOptions() Options {
	return Options{
		TelephonySampleRate: 8000,
		AISampleRate:        24000,
		FrameBytes:          160,
		MaxPendingFrames:    50,
		MaxPendingAIFrames:  100,
		NegotiationTimeout:  time.Second,
		Now: func() time.Time {
			return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for session %s to close, state %s", s.ID(), s.State())
	}
}
