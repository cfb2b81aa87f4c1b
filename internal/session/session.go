package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/protocol"
	"github.com/rs/zerolog"
)

// Stop reasons recorded in logs
const (
	ReasonStopEvent      = "stop_event"
	ReasonSocketClosed   = "socket_closed"
	ReasonShutdown       = "shutdown"
	ReasonNegotiation    = "negotiation_failed"
	ReasonTransportEnded = "transport_ended"
)

// Session bridges one call between its telephony stream and an AI transport.
// All events for the call are handled one at a time, in arrival order, by a
// single goroutine; callers only post events.
type Session struct {
	callID     string
	owner      Telephony
	negotiator Negotiator
	opts       Options
	logger     zerolog.Logger
	metrics    *observability.Metrics

	box    *mailbox
	status atomic.Int32
	done   chan struct{}

	// onClose runs once on the run loop as the session starts closing
	onClose func(*Session)

	// Owned by the run loop
	state   sessionState
	started bool
}

func newSession(callID string, owner Telephony, negotiator Negotiator, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		callID:     callID,
		owner:      owner,
		negotiator: negotiator,
		opts:       opts,
		logger:     observability.SessionLogger(callID),
		metrics:    observability.NewSessionMetrics(callID),
		box:        newMailbox(opts.MaxPendingFrames, opts.MaxPendingAIFrames),
		done:       make(chan struct{}),
		state:      idleState{},
	}
}

// ID returns the call id
func (s *Session) ID() string {
	return s.callID
}

// Owner returns the telephony connection the session writes to
func (s *Session) Owner() Telephony {
	return s.owner
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.status.Load())
}

// Done is closed once the session reaches Closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins AI-leg negotiation. Only the first start has an effect.
func (s *Session) Start() {
	s.post(event{kind: evStart})
}

// PushMedia queues one inbound telephony frame. It is dropped unless the
// session is Active when the frame is processed.
func (s *Session) PushMedia(payload, timestamp string) {
	evicted, ok := s.box.post(event{kind: evMedia, payload: payload, timestamp: timestamp})
	if !ok {
		s.metrics.RecordDrop("in", observability.DropNotActive)
		return
	}
	if evicted {
		s.metrics.RecordDrop("in", observability.DropBackpressure)
	}
}

// Stop ends the session. While negotiating, the stop is applied once the
// negotiation settles.
func (s *Session) Stop(reason string) {
	s.post(event{kind: evStop, reason: reason})
}

func (s *Session) post(ev event) bool {
	_, ok := s.box.post(ev)
	return ok
}

func (s *Session) setState(next sessionState) {
	prev := s.state
	s.state = next
	s.status.Store(int32(next.status()))
	if prev.status() != next.status() {
		s.logger.Debug().
			Str("from", prev.status().String()).
			Str("to", next.status().String()).
			Msg("Session state changed")
	}
}

// run is the session's event loop
func (s *Session) run() {
	defer close(s.done)
	s.metrics.RecordSessionStart()
	defer s.metrics.RecordSessionEnd()

	for {
		ev, ok := s.box.next()
		if !ok {
			return
		}
		s.handle(ev)
		if s.state.status() == StateClosed {
			s.box.close()
			return
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case evStart:
		s.handleStart()
	case evMedia:
		s.handleMedia(ev)
	case evStop:
		s.handleStop(ev.reason)
	case evNegotiated:
		s.handleNegotiated(ev)
	case evAIFrame:
		s.handleAIFrame(ev)
	case evTransportEnded:
		s.handleTransportEnded(ev)
	}
}

func (s *Session) handleStart() {
	if _, ok := s.state.(idleState); !ok {
		s.logger.Warn().Str("state", s.State().String()).Msg("Ignoring start outside idle state")
		return
	}

	timeout := s.opts.NegotiationTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Bounds Negotiating even when the negotiator ignores ctx
	deadline := time.AfterFunc(timeout, func() {
		s.post(event{
			kind: evNegotiated,
			err:  fmt.Errorf("%w: no result within %s", ErrNegotiation, timeout),
		})
	})

	s.started = true
	s.setState(&negotiatingState{cancel: cancel, deadline: deadline})
	s.metrics.RecordNegotiationStart()
	s.logger.Info().Msg("Negotiating AI transport")

	go func() {
		transport, err := s.negotiator.Negotiate(ctx, s.callID)
		if err == nil && transport == nil {
			err = fmt.Errorf("negotiator returned no transport")
		}
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrNegotiation, err)
		}
		ev := event{kind: evNegotiated, transport: transport, err: err, source: transport}
		if !s.post(ev) && transport != nil {
			transport.Close()
		}
	}()
}

func (s *Session) handleNegotiated(ev event) {
	neg, ok := s.state.(*negotiatingState)
	if !ok {
		if ev.transport != nil {
			ev.transport.Close()
		}
		return
	}
	neg.cancel()
	neg.deadline.Stop()
	s.metrics.RecordNegotiationEnd(ev.err == nil)

	if ev.err != nil {
		s.logger.Error().Err(ev.err).Msg("AI transport negotiation failed")
		s.teardown(ReasonNegotiation, ev.transport)
		return
	}

	if neg.stopPending {
		s.logger.Info().Str("reason", neg.stopReason).Msg("Applying stop deferred during negotiation")
		s.teardown(neg.stopReason, ev.transport)
		return
	}

	active := &activeState{
		transport: ev.transport,
		chunker:   audio.NewFrameChunker(s.opts.FrameBytes),
	}
	s.setState(active)
	s.logger.Info().Msg("Session active")

	s.sendMark(protocol.MarkConnected)
	go s.pump(ev.transport)
}

// pump forwards AI audio into the mailbox until the transport ends
func (s *Session) pump(transport Transport) {
	for frame := range transport.Frames() {
		evicted, ok := s.box.post(event{kind: evAIFrame, frame: frame, source: transport})
		if !ok {
			return
		}
		if evicted {
			s.metrics.RecordDrop("out", observability.DropAIBacklog)
		}
	}
	s.post(event{kind: evTransportEnded, source: transport})
}

func (s *Session) handleMedia(ev event) {
	active, ok := s.state.(*activeState)
	if !ok {
		s.metrics.RecordDrop("in", observability.DropNotActive)
		return
	}
	s.bridgeInbound(active, ev.payload, ev.timestamp)
}

func (s *Session) handleAIFrame(ev event) {
	active, ok := s.state.(*activeState)
	if !ok || active.transport != ev.source {
		return
	}
	s.bridgeOutbound(active, ev.frame)
}

func (s *Session) handleTransportEnded(ev event) {
	active, ok := s.state.(*activeState)
	if !ok || active.transport != ev.source {
		return
	}
	s.logger.Warn().Msg("AI transport ended unexpectedly")
	s.teardown(ReasonTransportEnded, active.transport)
}

func (s *Session) handleStop(reason string) {
	switch st := s.state.(type) {
	case idleState:
		s.teardown(reason, nil)
	case *negotiatingState:
		if !st.stopPending {
			st.stopPending = true
			st.stopReason = reason
			s.logger.Debug().Str("reason", reason).Msg("Deferring stop until negotiation settles")
		}
	case *activeState:
		s.teardown(reason, st.transport)
	}
}

// teardown moves through Closing to Closed, releasing the AI transport. The
// telephony socket is left open for its handler.
func (s *Session) teardown(reason string, transport Transport) {
	s.setState(closingState{reason: reason})

	if s.onClose != nil {
		s.onClose(s)
	}

	if s.started {
		s.sendMark(protocol.MarkDisconnected)
	}

	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close AI transport")
		}
	}

	s.setState(closedState{reason: reason})
	s.logger.Info().Str("reason", reason).Msg("Session closed")
}

func (s *Session) sendMark(name string) {
	if !s.owner.IsOpen() {
		return
	}
	if err := s.owner.WriteJSON(protocol.NewMarkMessage(s.callID, name)); err != nil {
		s.logger.Warn().Err(err).Str("mark", name).Msg("Failed to send mark")
	}
}
