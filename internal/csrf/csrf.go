// Package csrf implements the double-submit anti-forgery check: the
// token bound to a session must be echoed in a request header on every
// state-changing request.
package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/bffgate/bffgate/internal/log"
	"github.com/bffgate/bffgate/internal/securetoken"
	"github.com/bffgate/bffgate/internal/storage"
)

// HeaderName is the request header clients echo the token in
const HeaderName = "X-XSRF-TOKEN"

// ErrNoToken is returned when no token is bound to the session. The
// client must re-fetch a token before retrying.
var ErrNoToken = errors.New("no csrf token bound to session")

// ErrMismatch is returned when the supplied value differs from the
// bound token. The bound token is invalidated so the same guess cannot
// be retried indefinitely.
var ErrMismatch = errors.New("csrf token mismatch")

// Guard issues and verifies per-session CSRF tokens. Tokens live in the
// session store, never in process-global state, so one user's token can
// never leak into another's request.
type Guard struct {
	store storage.Store
}

// NewGuard creates a new CSRF guard backed by the given store
func NewGuard(store storage.Store) *Guard {
	return &Guard{store: store}
}

// Issue mints a fresh token bound to the session, replacing any prior one
func (g *Guard) Issue(ctx context.Context, sessionID string) (string, error) {
	token, err := securetoken.Generate()
	if err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}
	if err := g.store.PutCSRFToken(ctx, sessionID, token); err != nil {
		return "", fmt.Errorf("binding csrf token: %w", err)
	}
	return token, nil
}

// Verify checks the supplied value against the token bound to the
// session. Returns ErrNoToken when none is bound and ErrMismatch when
// the values differ; callers must respond to both with the same generic
// forbidden result so an attacker cannot tell them apart.
func (g *Guard) Verify(ctx context.Context, sessionID, supplied string) error {
	bound, err := g.store.GetCSRFToken(ctx, sessionID)
	if errors.Is(err, storage.ErrCSRFTokenNotFound) {
		return ErrNoToken
	}
	if err != nil {
		return fmt.Errorf("fetching csrf token: %w", err)
	}

	if supplied == "" || subtle.ConstantTimeCompare([]byte(bound), []byte(supplied)) != 1 {
		// Burn the bound token so a replayed guess cannot keep probing it
		if err := g.store.DeleteCSRFToken(ctx, sessionID); err != nil {
			log.LogErrorWithFields("csrf", "Failed to invalidate token after mismatch", map[string]any{
				"error": err.Error(),
			})
		}
		return ErrMismatch
	}
	return nil
}

// Revoke unbinds the session's token, used on logout
func (g *Guard) Revoke(ctx context.Context, sessionID string) error {
	return g.store.DeleteCSRFToken(ctx, sessionID)
}
