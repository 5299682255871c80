package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work, typically a report run.
type Job func(ctx context.Context) error

// Scheduler fires Job on a standard five-field cron expression (descriptors
// such as @daily are accepted). A run that is still going when the next
// tick fires causes that tick to be skipped.
type Scheduler struct {
	Expression string
	Job        Job
	Logger     *slog.Logger
	// RunOnStart triggers one run immediately instead of waiting for the
	// first tick.
	RunOnStart bool
	Location   *time.Location

	mu   sync.Mutex
	cron *cron.Cron
}

func Validate(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("schedule expression is required")
	}
	if _, err := cron.ParseStandard(expression); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expression, err)
	}
	return nil
}

// Run blocks until ctx is cancelled, then waits for an in-flight job.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Job == nil {
		return fmt.Errorf("scheduled job is required")
	}
	if err := Validate(s.Expression); err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	location := s.Location
	if location == nil {
		location = time.Local
	}

	c := cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.Expression, func() { s.fire(ctx, logger) }); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	attrs := []any{slog.String("schedule", s.Expression), slog.Bool("run_on_start", s.RunOnStart)}
	if next := s.NextRun(); next != nil {
		attrs = append(attrs, slog.Time("next_run", *next))
	}
	logger.InfoContext(ctx, "scheduler started", attrs...)
	if s.RunOnStart {
		c.Entries()[0].WrappedJob.Run()
	}

	<-ctx.Done()
	<-c.Stop().Done()
	logger.InfoContext(context.WithoutCancel(ctx), "scheduler stopped")
	return nil
}

// NextRun reports the next tick, or nil before Run has started.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

func (s *Scheduler) fire(ctx context.Context, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.Job(ctx); err != nil {
		logger.ErrorContext(ctx, "scheduled run failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
		return
	}
	logger.InfoContext(ctx, "scheduled run completed", slog.Duration("elapsed", time.Since(start)))
}
