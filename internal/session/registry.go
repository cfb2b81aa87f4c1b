package session

import (
	"context"
	"sync"

	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/rs/zerolog"
)

// Registry holds the live sessions keyed by call id. It is the only state
// shared across sessions.
type Registry struct {
	negotiator Negotiator
	opts       Options
	logger     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions negotiate through negotiator
func NewRegistry(negotiator Negotiator, opts Options) *Registry {
	return &Registry{
		negotiator: negotiator,
		opts:       opts.withDefaults(),
		logger:     observability.GetLogger().With().Str("component", "registry").Logger(),
		sessions:   make(map[string]*Session),
	}
}

// CreateIfAbsent registers a new idle session for callID owned by owner and
// starts its event loop
func (r *Registry) CreateIfAbsent(callID string, owner Telephony) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[callID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}

	s := newSession(callID, owner, r.negotiator, r.opts)
	s.onClose = r.detach
	r.sessions[callID] = s
	r.mu.Unlock()

	go s.run()

	r.logger.Debug().Str("call_id", callID).Msg("Session registered")
	return s, nil
}

// Get returns the session for callID
func (r *Registry) Get(callID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove stops the session for callID, if any. The session stays registered
// until its teardown begins, so a new start for the same id is rejected while
// a deferred stop is pending.
func (r *Registry) Remove(callID string) {
	s, err := r.Get(callID)
	if err != nil {
		return
	}
	s.Stop(ReasonStopEvent)
}

// RemoveAllOwnedBy stops every session written to by owner and returns how
// many were stopped. Each leaves the registry as its teardown begins.
func (r *Registry) RemoveAllOwnedBy(owner Telephony) int {
	owned := r.collect(func(s *Session) bool { return s.owner == owner })
	for _, s := range owned {
		s.Stop(ReasonSocketClosed)
	}
	return len(owned)
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll stops every session and waits for each to reach Closed or for
// ctx to end
func (r *Registry) CloseAll(ctx context.Context) error {
	all := r.collect(func(*Session) bool { return true })
	for _, s := range all {
		s.Stop(ReasonShutdown)
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.logger.Info().Int("sessions", len(all)).Msg("All sessions closed")
	return nil
}

// collect returns the registered sessions matching keep
func (r *Registry) collect(keep func(*Session) bool) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// detach removes s if it is still the session registered under its id
func (r *Registry) detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.callID]; ok && current == s {
		delete(r.sessions, s.callID)
	}
}
