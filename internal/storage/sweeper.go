package storage

import (
	"context"
	"time"

	"github.com/bffgate/bffgate/internal/log"
)

// Sweeper periodically removes expired records from a store. Backends
// with native expiry (Redis) make Sweep a no-op, so running the sweeper
// against them is harmless.
type Sweeper struct {
	store    Store
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSweeper creates a new sweeper
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep loop in a goroutine
func (sw *Sweeper) Start(ctx context.Context) {
	log.LogInfoWithFields("sweeper", "Starting session store sweeper", map[string]any{
		"interval": sw.interval.String(),
	})

	go sw.run(ctx)
}

// Stop gracefully stops the sweep loop
func (sw *Sweeper) Stop() {
	close(sw.stopChan)
	<-sw.doneChan
	log.Logf("Session store sweeper stopped")
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.doneChan)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	// Sweep immediately on start
	sw.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			sw.sweep(ctx)
		case <-sw.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	count, err := sw.store.Sweep(ctx)
	if err != nil {
		log.LogErrorWithFields("sweeper", "Failed to sweep expired records", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogDebugWithFields("sweeper", "Swept expired records", map[string]any{
			"count": count,
		})
	}
}
