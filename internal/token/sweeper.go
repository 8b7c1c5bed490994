package token

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes dead tokens from a Store. Expiry is already
// enforced at read time; the sweep only bounds table growth.
type Sweeper struct {
	store    Store
	interval time.Duration
	retain   time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper that runs every interval and retains
// consumed tokens for retain.
func NewSweeper(store Store, interval, retain time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if retain <= 0 {
		retain = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		retain:   retain,
		logger:   logger,
	}
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.store.DeleteExpired(ctx, s.retain)
				if err != nil {
					s.logger.Warn("token sweep failed", zap.Error(err))
					continue
				}
				if deleted > 0 {
					s.logger.Info("swept dead tokens", zap.Int64("deleted", deleted))
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
