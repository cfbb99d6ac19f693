// Package scheduler triggers dispatch runs on a cron schedule from inside the worker.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	cronlib "github.com/robfig/cron/v3"
	"github.com/tinywideclouds/go-notification-worker/internal/trigger"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

type Runner interface {
	Run(ctx context.Context, req trigger.Request) trigger.Report
}

// Scheduler fires the same request on every tick. A tick that arrives while the
// previous run is still going is dropped.
type Scheduler struct {
	cron    *cronlib.Cron
	runner  Runner
	request trigger.Request
	running atomic.Bool
	logger  *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

func New(expr string, runner Runner, request trigger.Request, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	s := &Scheduler{
		cron:    cronlib.New(cronlib.WithParser(cronParser)),
		runner:  runner,
		request: request,
		logger:  logger.With("component", "Scheduler", "schedule", expr),
		ctx:     context.Background(),
	}
	s.cron.Schedule(schedule, cronlib.FuncJob(func() { s.RunOnce(s.baseContext()) }))
	return s, nil
}

// Start begins firing ticks in the background; runs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop prevents new ticks and waits for an in-flight run or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// RunOnce performs a single run unless one is already active. It reports whether it ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Skipping tick, previous run still active")
		return false
	}
	defer s.running.Store(false)

	report := s.runner.Run(ctx, s.request)
	s.logger.Info("Scheduled run finished",
		"run_id", report.RunID,
		"claimed", report.Totals.Claimed,
		"failed", report.Totals.Failed,
	)
	return true
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
