package call

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/voicebridge/voicebridge/internal/transport"
)

var (
	// ErrAtCapacity is returned when admitting a call would exceed the
	// configured concurrent call limit.
	ErrAtCapacity = errors.New("call: at capacity")

	// ErrDuplicateCall is returned when a call ID is already registered.
	ErrDuplicateCall = errors.New("call: duplicate call id")

	// ErrBadState is returned for an operation the session's lifecycle
	// state does not allow.
	ErrBadState = errors.New("call: invalid session state")
)

// Registry tracks live call sessions and enforces the concurrency limit.
// Admission and removal are the only mutations; both are safe for
// concurrent use from webhook handlers and session teardown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	limit    int
	logger   *slog.Logger
}

// NewRegistry creates a registry admitting at most limit concurrent calls.
func NewRegistry(limit int, logger *slog.Logger) *Registry {
	if limit <= 0 {
		limit = 10
	}
	return &Registry{
		sessions: make(map[string]*Session),
		limit:    limit,
		logger:   logger.With("subsystem", "registry"),
	}
}

// Admit registers a session. It fails with ErrDuplicateCall when the ID is
// already live and ErrAtCapacity when the limit is reached.
func (r *Registry) Admit(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.CallID]; exists {
		return ErrDuplicateCall
	}
	if len(r.sessions) >= r.limit {
		return ErrAtCapacity
	}
	r.sessions[s.CallID] = s
	r.logger.Info("call admitted", "call_id", s.CallID, "provider", s.Provider, "active", len(r.sessions))
	return nil
}

// Get returns the live session for a call ID, or nil.
func (r *Registry) Get(callID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[callID]
}

// Remove unregisters a call. Removing an unknown ID is a no-op so teardown
// paths can call it unconditionally.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; ok {
		delete(r.sessions, callID)
		r.logger.Info("call removed", "call_id", callID, "active", len(r.sessions))
	}
}

// Count returns the number of live calls.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Limit returns the configured concurrent call limit.
func (r *Registry) Limit() int {
	return r.limit
}

// AtCapacity reports whether a new call would be rejected.
func (r *Registry) AtCapacity() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) >= r.limit
}

// CountByProvider returns live call counts keyed by provider.
func (r *Registry) CountByProvider() map[transport.Provider]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[transport.Provider]int, len(transport.Providers))
	for _, s := range r.sessions {
		counts[s.Provider]++
	}
	return counts
}

// Active returns a snapshot of the live sessions.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll hangs up every live call. Used during graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Hangup(HangupShutdown)
	}
}
