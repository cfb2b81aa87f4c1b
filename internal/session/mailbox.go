package session

import (
	"sync"

	"github.com/lexiqai/voice-bridge/internal/audio"
)

type eventKind int

const (
	evStart eventKind = iota
	evMedia
	evStop
	evNegotiated
	evAIFrame
	evTransportEnded
)

// event is one unit of work for a session's run loop
type event struct {
	kind eventKind

	// evMedia
	payload   string
	timestamp string

	// evStop
	reason string

	// evNegotiated
	transport Transport
	err       error

	// evAIFrame
	frame audio.Frame

	// evNegotiated, evAIFrame, evTransportEnded: which transport produced it
	source Transport
}

// mailbox is an unbounded FIFO for control events with per-kind bounds on
// audio events. When a bounded kind is full its oldest pending event is
// evicted; order among the remaining events is preserved.
type mailbox struct {
	mu     sync.Mutex
	events []event
	limits map[eventKind]int
	counts map[eventKind]int
	closed bool
	notify chan struct{}
}

func newMailbox(maxMedia, maxAIFrames int) *mailbox {
	return &mailbox{
		limits: map[eventKind]int{
			evMedia:   maxMedia,
			evAIFrame: maxAIFrames,
		},
		counts: make(map[eventKind]int),
		notify: make(chan struct{}, 1),
	}
}

// post enqueues ev. ok is false once the mailbox is closed.
func (m *mailbox) post(ev event) (evicted, ok bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, false
	}

	if limit, bounded := m.limits[ev.kind]; bounded && m.counts[ev.kind] >= limit {
		for i := range m.events {
			if m.events[i].kind == ev.kind {
				m.events = append(m.events[:i], m.events[i+1:]...)
				m.counts[ev.kind]--
				evicted = true
				break
			}
		}
	}

	m.events = append(m.events, ev)
	m.counts[ev.kind]++
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return evicted, true
}

// next blocks until an event is available. It returns false once closed.
func (m *mailbox) next() (event, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return event{}, false
		}
		if len(m.events) > 0 {
			ev := m.events[0]
			m.events[0] = event{}
			m.events = m.events[1:]
			m.counts[ev.kind]--
			m.mu.Unlock()
			return ev, true
		}
		m.mu.Unlock()

		<-m.notify
	}
}

// pending returns the number of queued events of kind
func (m *mailbox) pending(kind eventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

// close rejects further posts and discards queued events
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.events = nil
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}
