package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RecallSweeper emits maintenance recalls that are due at now.
type RecallSweeper interface {
	SweepRecalls(ctx context.Context, now time.Time) (int, error)
}

// DedupPurger drops expired inbound dedup markers.
type DedupPurger interface {
	PurgeEventDedup(ctx context.Context, now time.Time) (int64, error)
}

type SweepRecorder interface {
	RecallSweep(success bool)
}

// RecallScheduler runs the maintenance recall sweep on a cron schedule.
type RecallScheduler struct {
	logger   *slog.Logger
	sweeper  RecallSweeper
	recorder SweepRecorder
	purger   DedupPurger
	schedule cron.Schedule
	spec     string
	nowFn    func() time.Time
}

// NewRecallScheduler parses spec as a standard five-field cron expression
// or a descriptor such as "@hourly".
func NewRecallScheduler(logger *slog.Logger, sweeper RecallSweeper, recorder SweepRecorder, spec string) (*RecallScheduler, error) {
	if spec == "" {
		spec = "@hourly"
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse recall schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecallScheduler{
		logger:   logger,
		sweeper:  sweeper,
		recorder: recorder,
		schedule: schedule,
		spec:     spec,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithDedupPurger makes every run also purge expired dedup markers.
func (s *RecallScheduler) WithDedupPurger(p DedupPurger) *RecallScheduler {
	s.purger = p
	return s
}

// Next reports when the sweep fires after t.
func (s *RecallScheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled. Overlapping runs are skipped.
func (s *RecallScheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(ctx) }))
	c.Start()
	s.logger.InfoContext(ctx, "recall scheduler started",
		"module", "scheduler.recall",
		"layer", "adapter",
		"operation", "run",
		"outcome", "success",
		"schedule", s.spec,
	)
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *RecallScheduler) RunOnce(ctx context.Context) int {
	now := s.nowFn()
	s.purge(ctx, now)
	emitted, err := s.sweeper.SweepRecalls(ctx, now)
	if s.recorder != nil {
		s.recorder.RecallSweep(err == nil)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "recall sweep failed",
			"module", "scheduler.recall",
			"layer", "adapter",
			"operation", "sweep",
			"outcome", "failure",
			"error", err,
		)
		return emitted
	}
	s.logger.InfoContext(ctx, "recall sweep completed",
		"module", "scheduler.recall",
		"layer", "adapter",
		"operation", "sweep",
		"outcome", "success",
		"emitted", emitted,
	)
	return emitted
}

func (s *RecallScheduler) purge(ctx context.Context, now time.Time) {
	if s.purger == nil {
		return
	}
	purged, err := s.purger.PurgeEventDedup(ctx, now)
	if err != nil {
		s.logger.WarnContext(ctx, "dedup purge failed",
			"module", "scheduler.recall",
			"layer", "adapter",
			"operation", "purge_dedup",
			"outcome", "failure",
			"error", err,
		)
		return
	}
	if purged > 0 {
		s.logger.InfoContext(ctx, "expired dedup markers purged",
			"module", "scheduler.recall",
			"layer", "adapter",
			"operation", "purge_dedup",
			"outcome", "success",
			"purged", purged,
		)
	}
}
