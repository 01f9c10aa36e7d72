// ABOUTME: Session record binding one client's DID credential to its scoped ANP clients.
// ABOUTME: Downstream clients are built lazily, at most once per credential generation.

package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anpkit/anp-bridge/internal/anp"
	"github.com/anpkit/anp-bridge/internal/didauth"
)

// Session is one authenticated client's working context. The document and
// RPC clients are exclusively scoped to this session's credential; no two
// sessions share a client instance.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	credential   didauth.Credential
	lastAccessed time.Time

	initOnce  *sync.Once
	initErr   error
	docClient *anp.DocClient
	rpcClient *anp.RPCClient

	anpTimeout time.Duration
	logger     *slog.Logger
}

// newSession creates an uninitialized session; clients are built on first use.
func newSession(id string, cred didauth.Credential, anpTimeout time.Duration, logger *slog.Logger) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		credential:   cred,
		lastAccessed: now,
		initOnce:     new(sync.Once),
		anpTimeout:   anpTimeout,
		logger:       logger,
	}
}

// Credential returns the session's current credential.
func (s *Session) Credential() didauth.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// Touch updates the last-accessed time.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccessed = time.Now()
	s.mu.Unlock()
}

// LastAccessed returns the last-accessed time.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

// expired reports whether the session has been idle past timeout.
func (s *Session) expired(timeout time.Duration) bool {
	return time.Since(s.LastAccessed()) > timeout
}

// Clients returns the session's document and RPC clients, constructing them
// on first use. Construction happens at most once per credential; a failed
// construction (bad credential paths) is sticky until the credential is
// replaced via SetCredential.
func (s *Session) Clients() (*anp.DocClient, *anp.RPCClient, error) {
	s.mu.Lock()
	once := s.initOnce
	cred := s.credential
	s.mu.Unlock()

	once.Do(func() {
		identity, err := didauth.Load(cred)

		s.mu.Lock()
		defer s.mu.Unlock()
		// A concurrent SetCredential may have replaced the generation we
		// were initializing; its results must not leak into the new one.
		if s.initOnce != once {
			return
		}
		if err != nil {
			s.initErr = fmt.Errorf("initializing session: %w", err)
			s.logger.Error("failed to initialize session clients",
				"session_id", s.ID,
				"error", err,
			)
			return
		}

		s.docClient = anp.NewDocClient(identity, s.anpTimeout, s.logger)
		s.rpcClient = anp.NewRPCClient(identity, s.anpTimeout, s.logger)
		s.initErr = nil

		s.logger.Info("session initialized",
			"session_id", s.ID,
			"did_document", cred.DocumentPath,
		)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return nil, nil, s.initErr
	}
	if s.docClient == nil || s.rpcClient == nil {
		return nil, nil, fmt.Errorf("session %s not initialized", s.ID)
	}
	return s.docClient, s.rpcClient, nil
}

// SetCredential replaces the session's credential. The old clients are
// discarded and rebuilt lazily from the new identity; a session has exactly
// one active credential set at a time. Callers validate the credential
// (didauth.Load) before swapping it in.
func (s *Session) SetCredential(cred didauth.Credential) {
	s.mu.Lock()
	s.credential = cred
	s.initOnce = new(sync.Once)
	s.docClient = nil
	s.rpcClient = nil
	s.initErr = nil
	s.mu.Unlock()

	s.logger.Info("session credential replaced", "session_id", s.ID, "did_document", cred.DocumentPath)
}
