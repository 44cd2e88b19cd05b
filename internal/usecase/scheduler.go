package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"otagent/internal/domain"
	"otagent/internal/metrics"
)

const defaultCheckInterval = time.Hour

type ApplyUpdateUseCase interface {
	Execute(ctx context.Context) (*domain.UpdateRecord, error)
}

// Scheduler owns the periodic update-check state: the interval and the
// last-check timestamp live here, not in package globals, so the transfer
// path stays pure and independently testable. Checks run strictly one at a
// time; a manual trigger that lands mid-check is coalesced into the pending
// signal.
type Scheduler struct {
	apply    ApplyUpdateUseCase
	logger   *slog.Logger
	interval time.Duration
	trigger  chan struct{}

	mu         sync.Mutex
	lastCheck  time.Time
	lastRecord *domain.UpdateRecord
}

func NewScheduler(apply ApplyUpdateUseCase, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Scheduler{
		apply:    apply,
		logger:   logger,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkOnce(ctx)
		case <-s.trigger:
			s.checkOnce(ctx)
		}
	}
}

// TriggerNow requests an immediate check. Non-blocking; a trigger arriving
// while one is already pending is dropped.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// LastCheck returns the time of the most recent check, zero before the first.
func (s *Scheduler) LastCheck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheck
}

// LastOutcome returns a copy of the most recent attempt record, or nil when
// no check has found an update yet.
func (s *Scheduler) LastOutcome() *domain.UpdateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRecord == nil {
		return nil
	}
	rec := *s.lastRecord
	return &rec
}

func (s *Scheduler) checkOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastCheck = now
	s.mu.Unlock()
	metrics.LastCheckTimestamp.Set(float64(now.Unix()))

	rec, err := s.apply.Execute(ctx)
	switch {
	case err != nil:
		metrics.UpdateChecksTotal.WithLabelValues("error").Inc()
		s.logger.Warn("update check failed", slog.String("error", err.Error()))
		return
	case rec == nil:
		metrics.UpdateChecksTotal.WithLabelValues("none").Inc()
		s.logger.Debug("no update available")
		return
	}

	metrics.UpdateChecksTotal.WithLabelValues("update").Inc()
	s.mu.Lock()
	s.lastRecord = rec
	s.mu.Unlock()
}
