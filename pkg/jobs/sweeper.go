package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepFunc removes expired rows and reports how many were deleted.
type SweepFunc func(ctx context.Context) (int64, error)

// SweeperConfig configures the periodic sweep.
type SweeperConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Sweeper runs a sweep function on a fixed interval in a background
// goroutine. Sweeps are best-effort: a failed run is logged and retried on
// the next tick.
type Sweeper struct {
	name     string
	sweep    SweepFunc
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewSweeper builds a sweeper around the provided sweep function.
func NewSweeper(name string, sweep SweepFunc, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Sweeper{
		name:     name,
		sweep:    sweep,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.runOnce()
			}
		}
	}()

	s.logger.Info("sweeper started",
		zap.String("name", s.name),
		zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("sweeper stopped", zap.String("name", s.name))
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	deleted, err := s.sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep failed",
			zap.String("name", s.name),
			zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("sweep completed",
			zap.String("name", s.name),
			zap.Int64("deleted", deleted))
	}
}
