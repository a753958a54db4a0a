package storage

import (
	"context"
	"sync"
	"time"
)

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// MemoryStore is the in-process backend. Suitable for a single gateway
// instance; sessions do not survive a restart.
type MemoryStore struct {
	cfg Config

	mu         sync.RWMutex
	sessions   map[string]*Session
	csrfTokens map[string]string // sessionID -> token
	handshakes map[string]*Handshake
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		csrfTokens: make(map[string]string),
		handshakes: make(map[string]*Handshake),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return ErrSessionExists
	}

	now := time.Now()
	session.CreatedAt = now
	session.LastAccessedAt = now
	session.ExpiresAt = now.Add(s.cfg.SessionTTL)

	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	session, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists || session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists || session.Expired(time.Now()) {
		return ErrSessionNotFound
	}

	now := time.Now()
	session.LastAccessedAt = now
	session.ExpiresAt = now.Add(s.cfg.SessionTTL)
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	delete(s.csrfTokens, sessionID)
	return nil
}

func (s *MemoryStore) PutCSRFToken(_ context.Context, sessionID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.csrfTokens[sessionID] = token
	return nil
}

func (s *MemoryStore) GetCSRFToken(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.csrfTokens[sessionID]
	if !exists {
		return "", ErrCSRFTokenNotFound
	}
	return token, nil
}

func (s *MemoryStore) DeleteCSRFToken(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.csrfTokens, sessionID)
	return nil
}

func (s *MemoryStore) PutHandshake(_ context.Context, handshake *Handshake) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	handshake.CreatedAt = now
	handshake.ExpiresAt = now.Add(s.cfg.HandshakeTTL)

	copied := *handshake
	s.handshakes[handshake.State] = &copied
	return nil
}

func (s *MemoryStore) ConsumeHandshake(_ context.Context, state string) (*Handshake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handshake, exists := s.handshakes[state]
	if !exists {
		return nil, ErrHandshakeNotFound
	}

	// Single-use: gone even when expired, a replay must not see it
	delete(s.handshakes, state)

	if handshake.Expired(time.Now()) {
		return nil, ErrHandshakeNotFound
	}
	return handshake, nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			delete(s.csrfTokens, id)
			removed++
		}
	}

	for state, handshake := range s.handshakes {
		if handshake.Expired(now) {
			delete(s.handshakes, state)
			removed++
		}
	}

	// CSRF tokens whose session is gone
	for id := range s.csrfTokens {
		if _, exists := s.sessions[id]; !exists {
			delete(s.csrfTokens, id)
			removed++
		}
	}

	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
