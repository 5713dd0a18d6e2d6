package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/kantan-tools/kscrape/internal/jobs"
	"github.com/kantan-tools/kscrape/internal/metrics"
	"github.com/kantan-tools/kscrape/internal/model"
)

var ErrShuttingDown = errors.New("service is shutting down")

// Executor runs one scrape for a job which already exists in the registry
type Executor interface {
	RunTask(ctx context.Context, id string, params model.TaskParams) error
}

// Supervisor creates jobs, dispatches their scrapes in the background and
// periodically evicts old jobs.
type Supervisor struct {
	registry  *jobs.Registry
	executor  Executor
	retention time.Duration
	scheduler gocron.Scheduler

	// parent of all task contexts, canceled on shutdown
	tasksCtx    context.Context
	cancelTasks context.CancelCauseFunc

	mx     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSupervisor(ctx context.Context, cfg model.Sweep, registry *jobs.Registry, executor Executor) (*Supervisor, error) {
	retention, err := model.ParseISODuration(cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep.retention: %w", err)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("sweep.retention must be positive, got %s", retention)
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		registry:  registry,
		executor:  executor,
		retention: retention,
	}
	s.tasksCtx, s.cancelTasks = context.WithCancelCause(context.WithoutCancel(ctx))

	s.scheduler, err = newScheduler(ctx, schedule, func() { s.Sweep(s.tasksCtx) })
	if err != nil {
		s.cancelTasks(ErrShuttingDown)
		return nil, err
	}
	return s, nil
}

// Submit creates a pending job and starts its scrape in the background. The
// scrape is not bound to ctx, it outlives the request which submitted it.
func (s *Supervisor) Submit(ctx context.Context, params model.TaskParams) (string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return "", ErrShuttingDown
	}

	id := s.registry.Create()
	metrics.IncJobCreated()
	slog.InfoContext(ctx, "job submitted", "job_id", id, "year", params.Year, "month", params.Month, "day", params.Day)

	s.wg.Go(func() {
		err := s.executor.RunTask(s.tasksCtx, id, params)
		if err != nil {
			slog.ErrorContext(s.tasksCtx, "job failed", "job_id", id, "error", err)
			return
		}
		slog.InfoContext(s.tasksCtx, "job completed", "job_id", id)
	})
	return id, nil
}

// Sweep evicts jobs not updated within the retention period
func (s *Supervisor) Sweep(ctx context.Context) int {
	n := s.registry.Sweep(s.retention)
	metrics.AddSwept(n)
	if n > 0 {
		slog.InfoContext(ctx, "old jobs evicted", "count", n, "retention", s.retention)
	}
	return n
}

// Do runs the sweep schedule until ctx is done, then closes the supervisor.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor")
	s.scheduler.Start()
	<-ctx.Done()
	slog.DebugContext(ctx, "stopping a supervisor")
	return s.Close()
}

// Close rejects new submissions, cancels running scrapes and waits for them.
// Their jobs are failed with a cancellation error.
func (s *Supervisor) Close() error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	s.mx.Unlock()

	s.cancelTasks(ErrShuttingDown)
	s.wg.Wait()

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}

func newScheduler(ctx context.Context, schedule model.Schedule, sweepFunc func()) (gocron.Scheduler, error) {
	var job gocron.JobDefinition
	switch {
	case schedule.Cron != "":
		job = gocron.CronJob(schedule.Cron, false)
		slog.DebugContext(ctx, "sweep scheduled", "cron", schedule.Cron)
	case schedule.Interval > 0:
		job = gocron.DurationJob(schedule.Interval)
		slog.DebugContext(ctx, "sweep scheduled", "duration", schedule.Interval.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(sweepFunc),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
