package app

import (
	"context"
	"time"
)

// Locker grants exclusive leadership for one sweep across instances.
type Locker interface {
	// TryLock returns ok=false when another holder owns the lock.
	TryLock(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// Sweeper periodically cancels rooms whose join window expired unfilled.
type Sweeper struct {
	engine   *Engine
	lock     Locker
	interval time.Duration
}

func NewSweeper(engine *Engine, lock Locker, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{engine: engine, lock: lock, interval: interval}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.engine.log.Error("sweep failed", "err", err)
			}
		}
	}
}

// RunOnce performs a single sweep if this instance wins the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, s.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer release()
	}
	return s.engine.SweepExpired(ctx)
}
