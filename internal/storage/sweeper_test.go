package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRemovesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Config{
		SessionTTL:   10 * time.Millisecond,
		HandshakeTTL: 10 * time.Millisecond,
	})

	require.NoError(t, store.CreateSession(ctx, &Session{ID: "doomed"}))
	time.Sleep(20 * time.Millisecond)

	sweeper := NewSweeper(store, 10*time.Millisecond)
	sweeper.Start(ctx)

	assert.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		return len(store.sessions) == 0
	}, time.Second, 10*time.Millisecond)

	sweeper.Stop()
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore(Config{SessionTTL: time.Hour, HandshakeTTL: time.Hour})

	sweeper := NewSweeper(store, time.Hour)
	sweeper.Start(ctx)
	cancel()

	select {
	case <-sweeper.doneChan:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
