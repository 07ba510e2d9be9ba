// Package expiry schedules periodic expiration sweeps of a cache.
//
// The store itself never schedules work; a Sweeper is one caller that does.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cleaner removes expired entries and reports how many it removed.
type Cleaner interface {
	CleanExpired(ctx context.Context) (int, error)
}

// Config holds sweep configuration.
type Config struct {
	// Interval is how often to run sweeps. Default is 1 hour.
	Interval time.Duration

	// Logger for sweep events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 1 * time.Hour,
		Logger:   slog.Default(),
	}
}

// Result contains the results of a sweep.
type Result struct {
	StartedAt time.Time
	Removed   int
	Duration  time.Duration
	Err       error
}

// Sweeper runs CleanExpired on a schedule.
type Sweeper struct {
	config  Config
	cleaner Cleaner
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	lastRun *Result
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a new sweeper for c.
func NewSweeper(c Cleaner, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sweeper{
		config:  cfg,
		cleaner: c,
		logger:  cfg.Logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins background sweeps, running the first one immediately.
// Calling Start more than once, or after Stop, has no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops background sweeps and waits for any in-progress sweep.
// Stopping a sweeper that was never started closes Done immediately.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	running := s.running
	s.mu.Unlock()

	if !running {
		close(s.doneCh)
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

// Done is closed when the background loop exits.
func (s *Sweeper) Done() <-chan struct{} {
	return s.doneCh
}

// LastResult returns the result of the most recent sweep, or nil.
func (s *Sweeper) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) *Result {
	result := &Result{StartedAt: s.now()}

	s.logger.Debug("starting expiration sweep")

	result.Removed, result.Err = s.cleaner.CleanExpired(ctx)
	result.Duration = s.now().Sub(result.StartedAt)

	switch {
	case result.Err != nil:
		s.logger.Error("expiration sweep failed",
			"removed", result.Removed,
			"error", result.Err,
		)
	case result.Removed > 0:
		s.logger.Info("expiration sweep complete",
			"removed", result.Removed,
			"duration", result.Duration,
		)
	default:
		s.logger.Debug("expiration sweep complete, nothing to expire")
	}

	s.mu.Lock()
	s.lastRun = result
	s.mu.Unlock()

	return result
}
