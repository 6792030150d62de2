package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeSweeper struct {
	calls []time.Time
	err   error
}

func (f *fakeSweeper) SweepRecalls(_ context.Context, now time.Time) (int, error) {
	f.calls = append(f.calls, now)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

type fakeRecorder struct{ ok, failed int }

func (r *fakeRecorder) RecallSweep(success bool) {
	if success {
		r.ok++
		return
	}
	r.failed++
}

func TestRecallSchedulerRunOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC)
	sweeper := &fakeSweeper{}
	recorder := &fakeRecorder{}
	s, err := NewRecallScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), sweeper, recorder, "0 6 * * *")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.nowFn = func() time.Time { return now }

	if got := s.RunOnce(context.Background()); got != 3 {
		t.Fatalf("emitted = %d, want 3", got)
	}
	if len(sweeper.calls) != 1 || !sweeper.calls[0].Equal(now) {
		t.Fatalf("sweeper calls = %v", sweeper.calls)
	}
	sweeper.err = errors.New("store down")
	s.RunOnce(context.Background())
	if recorder.ok != 1 || recorder.failed != 1 {
		t.Fatalf("recorder = %+v", recorder)
	}
	if next := s.Next(now); !next.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("next = %v", next)
	}
}

func TestRecallSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()
	if _, err := NewRecallScheduler(nil, &fakeSweeper{}, nil, "every tuesday"); err == nil {
		t.Fatalf("expected invalid cron spec to fail")
	}
}

type fakePurger struct {
	calls []time.Time
	err   error
}

func (p *fakePurger) PurgeEventDedup(_ context.Context, now time.Time) (int64, error) {
	p.calls = append(p.calls, now)
	return 2, p.err
}

func TestRecallSchedulerPurgesDedupBeforeSweep(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC)
	sweeper := &fakeSweeper{}
	purger := &fakePurger{}
	s, err := NewRecallScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), sweeper, nil, "@daily")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.nowFn = func() time.Time { return now }
	s.WithDedupPurger(purger)

	s.RunOnce(context.Background())
	purger.err = errors.New("store down")
	if got := s.RunOnce(context.Background()); got != 3 {
		t.Fatalf("purge failure blocked the sweep, emitted = %d", got)
	}
	if len(purger.calls) != 2 || !purger.calls[0].Equal(now) || len(sweeper.calls) != 2 {
		t.Fatalf("purger calls = %v sweeper calls = %v", purger.calls, sweeper.calls)
	}
}
