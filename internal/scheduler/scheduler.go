// Package scheduler drives periodic task execution. One polling loop checks
// due-ness every tick and launches a runner goroutine per due task.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sitewatch/internal/monitor"
	"sitewatch/internal/runner"
)

// DefaultPollInterval is how often the loop re-evaluates due tasks.
const DefaultPollInterval = 60 * time.Second

// defaultSiteInterval applies when a site has no configured interval.
const defaultSiteInterval = 60 * time.Minute

// Runner launches runs and answers in-flight queries.
type Runner interface {
	RunTask(ctx context.Context, taskID int64) (monitor.RunLog, error)
	IsRunning(taskID int64) bool
}

// TaskSource provides the active task set with site configuration.
type TaskSource interface {
	ListActiveTasks(ctx context.Context) ([]monitor.Task, error)
	GetSite(ctx context.Context, siteID int64) (monitor.Site, error)
}

// Scheduler owns the polling loop.
type Scheduler struct {
	tasks    TaskSource
	runner   Runner
	clock    monitor.Clock
	interval time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New constructs a Scheduler polling at the given interval.
func New(tasks TaskSource, r Runner, clock monitor.Clock, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{tasks: tasks, runner: r, clock: clock, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, evaluating due tasks every tick. Tick
// errors are logged and never stop the loop. On shutdown it waits for
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("poll_interval", s.interval))
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight runs")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	tasks, err := s.tasks.ListActiveTasks(ctx)
	if err != nil {
		s.logger.Error("list active tasks failed", zap.Error(err))
		return
	}
	now := s.clock.Now()
	for _, task := range tasks {
		if s.runner.IsRunning(task.ID) {
			continue
		}
		site, err := s.tasks.GetSite(ctx, task.SiteID)
		if err != nil {
			s.logger.Error("load site failed",
				zap.Int64("task_id", task.ID),
				zap.Int64("site_id", task.SiteID),
				zap.Error(err),
			)
			continue
		}
		if !due(task, site, now) {
			continue
		}
		s.launch(ctx, task.ID)
	}
}

func (s *Scheduler) launch(ctx context.Context, taskID int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run, err := s.runner.RunTask(ctx, taskID)
		switch {
		case errors.Is(err, runner.ErrAlreadyRunning):
			// A manual trigger won the race; nothing to do.
		case err != nil:
			s.logger.Error("scheduled run failed to start",
				zap.Int64("task_id", taskID),
				zap.Error(err),
			)
		default:
			s.logger.Info("scheduled run finished",
				zap.Int64("task_id", taskID),
				zap.Stringer("run_id", run.ID),
				zap.String("status", string(run.Status)),
			)
		}
	}()
}

// due reports whether the task should run now, given the site interval.
// Never-run tasks are always due.
func due(task monitor.Task, site monitor.Site, now time.Time) bool {
	if task.LastRunAt == nil {
		return true
	}
	interval := time.Duration(site.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = defaultSiteInterval
	}
	return now.Sub(*task.LastRunAt) >= interval
}
