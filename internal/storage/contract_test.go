package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the Store behaviors every backend must
// share. Backends call it from their own tests.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create_and_get_session", func(t *testing.T) {
		session := &Session{
			ID:          "contract-session-1",
			Principal:   "subject-123",
			Username:    "testuser",
			Email:       "testuser@example.com",
			Authorities: []string{"ROLE_ADMIN"},
		}
		require.NoError(t, store.CreateSession(ctx, session))
		assert.False(t, session.CreatedAt.IsZero())
		assert.True(t, session.ExpiresAt.After(session.CreatedAt))

		got, err := store.GetSession(ctx, "contract-session-1")
		require.NoError(t, err)
		assert.Equal(t, "subject-123", got.Principal)
		assert.Equal(t, []string{"ROLE_ADMIN"}, got.Authorities)
	})

	t.Run("create_collision_is_an_error", func(t *testing.T) {
		session := &Session{ID: "contract-session-1", Principal: "other"}
		err := store.CreateSession(ctx, session)
		assert.ErrorIs(t, err, ErrSessionExists)

		// Original record must be untouched
		got, err := store.GetSession(ctx, "contract-session-1")
		require.NoError(t, err)
		assert.Equal(t, "subject-123", got.Principal)
	})

	t.Run("get_unknown_session", func(t *testing.T) {
		_, err := store.GetSession(ctx, "no-such-session")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("touch_extends_expiry", func(t *testing.T) {
		before, err := store.GetSession(ctx, "contract-session-1")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.TouchSession(ctx, "contract-session-1"))

		after, err := store.GetSession(ctx, "contract-session-1")
		require.NoError(t, err)
		assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
		assert.True(t, after.LastAccessedAt.After(before.LastAccessedAt))
	})

	t.Run("touch_unknown_session", func(t *testing.T) {
		err := store.TouchSession(ctx, "no-such-session")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("csrf_token_lifecycle", func(t *testing.T) {
		_, err := store.GetCSRFToken(ctx, "contract-session-1")
		assert.ErrorIs(t, err, ErrCSRFTokenNotFound)

		require.NoError(t, store.PutCSRFToken(ctx, "contract-session-1", "token-a"))
		token, err := store.GetCSRFToken(ctx, "contract-session-1")
		require.NoError(t, err)
		assert.Equal(t, "token-a", token)

		// Re-issue replaces the previous token
		require.NoError(t, store.PutCSRFToken(ctx, "contract-session-1", "token-b"))
		token, err = store.GetCSRFToken(ctx, "contract-session-1")
		require.NoError(t, err)
		assert.Equal(t, "token-b", token)

		require.NoError(t, store.DeleteCSRFToken(ctx, "contract-session-1"))
		_, err = store.GetCSRFToken(ctx, "contract-session-1")
		assert.ErrorIs(t, err, ErrCSRFTokenNotFound)
	})

	t.Run("delete_session_cascades_to_csrf", func(t *testing.T) {
		require.NoError(t, store.PutCSRFToken(ctx, "contract-session-1", "token-c"))
		require.NoError(t, store.DeleteSession(ctx, "contract-session-1"))

		_, err := store.GetSession(ctx, "contract-session-1")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = store.GetCSRFToken(ctx, "contract-session-1")
		assert.ErrorIs(t, err, ErrCSRFTokenNotFound)

		// Idempotent
		assert.NoError(t, store.DeleteSession(ctx, "contract-session-1"))
	})

	t.Run("handshake_is_single_use", func(t *testing.T) {
		handshake := &Handshake{
			State:        "state-abc",
			Nonce:        "nonce-1",
			CodeVerifier: "verifier-1",
			ReturnURL:    "/app",
		}
		require.NoError(t, store.PutHandshake(ctx, handshake))

		got, err := store.ConsumeHandshake(ctx, "state-abc")
		require.NoError(t, err)
		assert.Equal(t, "nonce-1", got.Nonce)
		assert.Equal(t, "verifier-1", got.CodeVerifier)
		assert.Equal(t, "/app", got.ReturnURL)

		// Replay must fail
		_, err = store.ConsumeHandshake(ctx, "state-abc")
		assert.ErrorIs(t, err, ErrHandshakeNotFound)
	})

	t.Run("consume_unknown_state", func(t *testing.T) {
		_, err := store.ConsumeHandshake(ctx, "never-issued")
		assert.ErrorIs(t, err, ErrHandshakeNotFound)
	})
}

// runStoreExpiry exercises expiry behavior with a store configured with
// very short TTLs.
func runStoreExpiry(t *testing.T, store Store) {
	ctx := context.Background()

	session := &Session{ID: "expiring-session", Principal: "subject-456"}
	require.NoError(t, store.CreateSession(ctx, session))

	handshake := &Handshake{State: "expiring-state"}
	require.NoError(t, store.PutHandshake(ctx, handshake))

	time.Sleep(30 * time.Millisecond)

	_, err := store.GetSession(ctx, "expiring-session")
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired session must behave like a missing one")

	_, err = store.ConsumeHandshake(ctx, "expiring-state")
	assert.ErrorIs(t, err, ErrHandshakeNotFound, "expired handshake must not be consumable")
}
