// Package flow drives the authorization-code handshake: login
// initiation, callback correlation, code exchange and session
// establishment. Raw tokens from the authorization server are consumed
// here and never reach the browser.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bffgate/bffgate/internal/claims"
	"github.com/bffgate/bffgate/internal/csrf"
	"github.com/bffgate/bffgate/internal/idp"
	"github.com/bffgate/bffgate/internal/log"
	"github.com/bffgate/bffgate/internal/securetoken"
	"github.com/bffgate/bffgate/internal/storage"
	"golang.org/x/oauth2"
)

// ErrInvalidState means the callback carried an unknown, expired or
// already-consumed state value. The callback is treated as forged and
// no session is created.
var ErrInvalidState = errors.New("invalid or expired state")

// ErrProviderDenied means the user or the authorization server aborted
// the handshake. The user may retry by re-initiating login.
var ErrProviderDenied = errors.New("authorization denied by provider")

// ErrExchangeFailed means the code-for-token exchange failed. Codes are
// single-use, so the handshake is never retried automatically; the user
// must re-initiate login.
var ErrExchangeFailed = errors.New("code exchange failed")

// Controller runs the handshake against one identity provider
type Controller struct {
	provider        idp.Provider
	store           storage.Store
	guard           *csrf.Guard
	exchangeTimeout time.Duration
}

// NewController creates a flow controller. exchangeTimeout bounds the
// token-endpoint call, the only blocking I/O in the handshake.
func NewController(provider idp.Provider, store storage.Store, guard *csrf.Guard, exchangeTimeout time.Duration) *Controller {
	if exchangeTimeout <= 0 {
		exchangeTimeout = 30 * time.Second
	}
	return &Controller{
		provider:        provider,
		store:           store,
		guard:           guard,
		exchangeTimeout: exchangeTimeout,
	}
}

// Result carries everything the caller needs to finish a login: the
// established session, the CSRF token to hand to the browser, and where
// to send it next.
type Result struct {
	Session   *storage.Session
	CSRFToken string
	ReturnURL string
}

// InitiateLogin mints state, nonce and a PKCE verifier, records the
// handshake, and returns the authorization redirect target. No session
// exists yet at this point.
func (c *Controller) InitiateLogin(ctx context.Context, returnHint string) (string, error) {
	state, err := securetoken.Generate()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	nonce, err := securetoken.Generate()
	if err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	handshake := &storage.Handshake{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		ReturnURL:    sanitizeReturnURL(returnHint),
	}
	if err := c.store.PutHandshake(ctx, handshake); err != nil {
		return "", fmt.Errorf("recording handshake: %w", err)
	}

	return c.provider.AuthURL(state, nonce, verifier), nil
}

// CompleteLogin correlates the provider callback with its handshake,
// exchanges the code and establishes a session. The handshake record is
// consumed exactly once, so replaying a callback fails with
// ErrInvalidState.
func (c *Controller) CompleteLogin(ctx context.Context, code, state, providerErr string) (*Result, error) {
	handshake, err := c.store.ConsumeHandshake(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrHandshakeNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("looking up handshake: %w", err)
	}

	if providerErr != "" {
		log.LogWarnWithFields("flow", "Provider aborted the handshake", map[string]any{
			"error": providerErr,
		})
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, providerErr)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: callback carried no code", ErrExchangeFailed)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	token, err := c.provider.Exchange(exchangeCtx, code, handshake.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	doc, err := c.provider.Claims(exchangeCtx, token, handshake.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	session, err := c.establishSession(ctx, doc)
	if err != nil {
		return nil, err
	}

	csrfToken, err := c.guard.Issue(ctx, session.ID)
	if err != nil {
		// Roll the session back rather than leave one without a CSRF token
		_ = c.store.DeleteSession(ctx, session.ID)
		return nil, fmt.Errorf("issuing csrf token: %w", err)
	}

	log.LogInfoWithFields("flow", "Session established", map[string]any{
		"principal":   session.Principal,
		"username":    session.Username,
		"authorities": session.Authorities,
	})

	return &Result{
		Session:   session,
		CSRFToken: csrfToken,
		ReturnURL: handshake.ReturnURL,
	}, nil
}

func (c *Controller) establishSession(ctx context.Context, doc claims.Document) (*storage.Session, error) {
	sessionID, err := securetoken.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	session := &storage.Session{
		ID:          sessionID,
		Principal:   doc.Subject,
		Username:    doc.DisplayName(),
		Email:       doc.Email,
		Name:        doc.Name,
		GivenName:   doc.GivenName,
		FamilyName:  doc.FamilyName,
		Authorities: doc.Authorities(),
	}

	if err := c.store.CreateSession(ctx, session); err != nil {
		// ErrSessionExists here means the random id generator is broken;
		// surface it rather than overwrite another user's session.
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

// Logout destroys the session and its bound CSRF token. Idempotent:
// logging out an unknown or empty session id succeeds.
func (c *Controller) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// sanitizeReturnURL confines the post-login redirect to a relative path
// on this host; anything else falls back to the root.
func sanitizeReturnURL(hint string) string {
	if hint == "" || !strings.HasPrefix(hint, "/") || strings.HasPrefix(hint, "//") {
		return "/"
	}
	if strings.ContainsAny(hint, "\\\r\n") {
		return "/"
	}
	return hint
}
