// ABOUTME: In-memory keyed store of session records with touch-on-read and expiry sweep.
// ABOUTME: Create/get/remove/sweep are mutually atomic under one RWMutex.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anpkit/anp-bridge/internal/didauth"
)

// StoreConfig holds construction parameters for a Store.
type StoreConfig struct {
	// Timeout is the idle lifetime of a session. Get refuses records idle
	// past this and the janitor sweeps them.
	Timeout time.Duration
	// ANPTimeout is the outbound request timeout handed to each session's clients.
	ANPTimeout time.Duration
	Logger     *slog.Logger
}

// Store is the process-wide session collection. Keys are opaque ids the
// store generates at creation time; clients never supply their own.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout    time.Duration
	anpTimeout time.Duration
	logger     *slog.Logger
}

// NewStore creates an empty session store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Store{
		sessions:   make(map[string]*Session),
		timeout:    timeout,
		anpTimeout: cfg.ANPTimeout,
		logger:     logger,
	}
}

// Create generates a fresh session for the credential and returns its id.
// Safe to call concurrently; uuid generation makes duplicate ids a
// non-concern.
func (s *Store) Create(cred didauth.Credential) *Session {
	sess := newSession(uuid.New().String(), cred, s.anpTimeout, s.logger)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	total := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", sess.ID, "total_sessions", total)
	return sess
}

// Get returns the session and touches its last-accessed time, atomically
// with the lookup. Unknown ids and records already idle past the timeout
// both return nil; an expired record found here is removed immediately
// rather than waiting for the sweep.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	if sess.expired(s.timeout) {
		s.Remove(id)
		return nil
	}

	sess.Touch()
	return sess
}

// Remove deletes a session. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	total := len(s.sessions)
	s.mu.Unlock()

	if existed {
		s.logger.Info("session removed", "session_id", id, "total_sessions", total)
	}
}

// Sweep removes every session idle past the store timeout and returns the
// removed ids. Expiry is re-checked under the write lock so a record touched
// after the snapshot is never evicted.
func (s *Store) Sweep() []string {
	s.mu.RLock()
	candidates := make([]string, 0)
	for id, sess := range s.sessions {
		if sess.expired(s.timeout) {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}

	removed := make([]string, 0, len(candidates))
	s.mu.Lock()
	for _, id := range candidates {
		sess, ok := s.sessions[id]
		if !ok || !sess.expired(s.timeout) {
			continue
		}
		delete(s.sessions, id)
		removed = append(removed, id)
	}
	total := len(s.sessions)
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Info("expired sessions removed",
			"count", len(removed),
			"timeout", s.timeout,
			"total_sessions", total,
		)
	}
	return removed
}

// Len returns the number of live sessions (for monitoring).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Timeout returns the configured idle lifetime.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}
