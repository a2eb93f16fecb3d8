package core

// scheduler.go runs background maintenance for the import pipeline.
//
// An upload that dies between creating its import and staging its rows
// (process crash, deploy) leaves the import in 'uploaded' forever. The
// sweeper marks such imports failed so history shows what happened. It
// logs and carries on when a sweep fails.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/metrics"
)

// StaleImportMessage is the error message given to swept imports.
const StaleImportMessage = "staging interrupted"

// sweepTimeout bounds one sweep run.
const sweepTimeout = time.Minute

// StaleImportSweeper fails imports stuck in 'uploaded'.
type StaleImportSweeper struct {
	q       database.Querier
	after   time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	cron *cron.Cron
}

// NewStaleImportSweeper sweeps imports older than after.
func NewStaleImportSweeper(q database.Querier, after time.Duration, m *metrics.Metrics) *StaleImportSweeper {
	return &StaleImportSweeper{
		q:       q,
		after:   after,
		metrics: m,
		now:     time.Now,
	}
}

// Sweep runs once and returns how many imports it failed.
func (s *StaleImportSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.after)
	n, err := s.q.FailStaleImports(ctx, cutoff, StaleImportMessage)
	if err != nil {
		return 0, fmt.Errorf("fail stale imports: %w", err)
	}
	s.metrics.StaleImportsFailed(n)
	return n, nil
}

// Start schedules Sweep on spec, a standard cron expression or descriptor
// such as "@every 15m".
func (s *StaleImportSweeper) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("schedule stale import sweep %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	slog.Info("stale import sweeper started", "spec", spec, "stale_after", s.after)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *StaleImportSweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
		slog.Info("stale import sweeper stopped")
	case <-ctx.Done():
		slog.Warn("stale import sweeper stop timed out")
	}
}

func (s *StaleImportSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("stale import sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("marked stale imports failed", "count", n, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Debug("stale import sweep found nothing", "duration_ms", time.Since(start).Milliseconds())
}
