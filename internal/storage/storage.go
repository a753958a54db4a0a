// Package storage owns the gateway's keyed, expiring state: authenticated
// sessions, the CSRF token bound to each session, and the short-lived
// handshake records correlating in-flight authorization-code exchanges.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrSessionNotFound is returned when a session doesn't exist or has expired
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when CreateSession hits an existing id.
// With 256-bit random ids this indicates a broken id generator, not bad
// luck, so callers must treat it as fatal rather than overwrite.
var ErrSessionExists = errors.New("session id already exists")

// ErrCSRFTokenNotFound is returned when no CSRF token is bound to a session
var ErrCSRFTokenNotFound = errors.New("csrf token not found")

// ErrHandshakeNotFound is returned when no handshake record matches a state value
var ErrHandshakeNotFound = errors.New("handshake state not found")

// Session represents one authenticated browser-backend relationship.
// Display claims are denormalized at creation and not re-verified per
// request.
type Session struct {
	ID             string    `json:"id" firestore:"id"`
	Principal      string    `json:"principal" firestore:"principal"`
	Username       string    `json:"username" firestore:"username"`
	Email          string    `json:"email" firestore:"email"`
	Name           string    `json:"name" firestore:"name"`
	GivenName      string    `json:"given_name" firestore:"given_name"`
	FamilyName     string    `json:"family_name" firestore:"family_name"`
	Authorities    []string  `json:"authorities" firestore:"authorities"`
	CreatedAt      time.Time `json:"created_at" firestore:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at" firestore:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at" firestore:"expires_at"`
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// HasAuthority reports whether the session carries the given authority
func (s *Session) HasAuthority(authority string) bool {
	return slices.Contains(s.Authorities, authority)
}

// Handshake is the short-lived correlation record for one in-flight
// authorization-code exchange. It is looked up exactly once, by state.
type Handshake struct {
	State        string    `json:"state" firestore:"state"`
	Nonce        string    `json:"nonce" firestore:"nonce"`
	CodeVerifier string    `json:"code_verifier" firestore:"code_verifier"`
	ReturnURL    string    `json:"return_url" firestore:"return_url"`
	CreatedAt    time.Time `json:"created_at" firestore:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" firestore:"expires_at"`
}

// Expired reports whether the handshake is past its expiry
func (h *Handshake) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// Config holds the record lifetimes a store enforces
type Config struct {
	// SessionTTL is the sliding session lifetime. Each TouchSession
	// extends expiry by this much.
	SessionTTL time.Duration

	// HandshakeTTL bounds how long a login redirect may stay in flight.
	HandshakeTTL time.Duration
}

// Store is the contract every session-store backend implements. All
// methods are safe for concurrent use; per-key writes are atomic.
type Store interface {
	// CreateSession stores a new session under session.ID, stamping
	// CreatedAt/LastAccessedAt/ExpiresAt. Returns ErrSessionExists on
	// an id collision, never overwrites.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession returns the session, or ErrSessionNotFound if the id
	// is unknown or the record has expired.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// TouchSession refreshes LastAccessedAt and extends expiry by the
	// configured session TTL. Last-writer-wins between concurrent
	// touches of the same session.
	TouchSession(ctx context.Context, sessionID string) error

	// DeleteSession removes the session and its bound CSRF token.
	// Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// PutCSRFToken binds a CSRF token to a session, replacing any prior one
	PutCSRFToken(ctx context.Context, sessionID, token string) error

	// GetCSRFToken returns the token bound to the session, or ErrCSRFTokenNotFound
	GetCSRFToken(ctx context.Context, sessionID string) (string, error)

	// DeleteCSRFToken unbinds the session's CSRF token, forcing re-issue
	DeleteCSRFToken(ctx context.Context, sessionID string) error

	// PutHandshake stores a handshake record keyed by its state value,
	// stamping CreatedAt/ExpiresAt.
	PutHandshake(ctx context.Context, handshake *Handshake) error

	// ConsumeHandshake atomically takes and deletes the handshake for a
	// state value. Unknown, already-consumed and expired states all
	// return ErrHandshakeNotFound.
	ConsumeHandshake(ctx context.Context, state string) (*Handshake, error)

	// Sweep removes expired sessions, handshakes and orphaned CSRF
	// tokens, returning how many records were dropped.
	Sweep(ctx context.Context) (int, error)

	// Close releases backend resources
	Close() error
}
