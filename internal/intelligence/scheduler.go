package intelligence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PassRunner runs one learning pass.
type PassRunner interface {
	RunLearningPass(ctx context.Context) (PassResult, error)
}

// Scheduler runs learning passes off the request path: periodically and
// whenever Trigger is called.
type Scheduler struct {
	runner   PassRunner
	interval time.Duration
	trigger  chan struct{}
	logger   *zap.Logger
}

// NewScheduler creates a scheduler. A non-positive interval disables the
// periodic pass; triggered passes still run.
func NewScheduler(runner PassRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Trigger requests a pass without blocking. Triggers received while a pass
// is pending collapse into one.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run executes passes until ctx is cancelled. A pass in flight is cancelled
// with ctx and commits what it finished.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Info("Learning scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Learning scheduler stopped")
			return nil
		case <-tick:
		case <-s.trigger:
		}
		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	res, err := s.runner.RunLearningPass(ctx)
	switch {
	case err == nil:
		s.logger.Debug("Scheduled learning pass finished",
			zap.Int("entries", res.Entries),
			zap.Int64("watermark", res.Watermark))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown; the pass already recorded its cancellation.
	default:
		s.logger.Warn("Scheduled learning pass failed", zap.Error(err))
	}
}
