package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kantan-tools/kscrape/internal/jobs"
	"github.com/kantan-tools/kscrape/internal/model"
	"github.com/kantan-tools/kscrape/internal/service"
	"github.com/stretchr/testify/require"
)

// blockingExecutor records calls and blocks until released or canceled
type blockingExecutor struct {
	mx      sync.Mutex
	calls   map[string]model.TaskParams
	release chan struct{}
	errs    chan error
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		calls:   make(map[string]model.TaskParams),
		release: make(chan struct{}),
		errs:    make(chan error, 16),
	}
}

func (e *blockingExecutor) RunTask(ctx context.Context, id string, params model.TaskParams) error {
	e.mx.Lock()
	e.calls[id] = params
	e.mx.Unlock()
	var err error
	select {
	case <-e.release:
	case <-ctx.Done():
		err = context.Cause(ctx)
	}
	e.errs <- err
	return err
}

func (e *blockingExecutor) called(id string) (model.TaskParams, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	p, ok := e.calls[id]
	return p, ok
}

var testSweep = model.Sweep{
	Retention: "P1D",
	Duration:  "PT1H",
}

func TestSupervisorSubmit(t *testing.T) {
	t.Parallel()
	reg := jobs.NewRegistry()
	exec := newBlockingExecutor()
	s, err := service.NewSupervisor(t.Context(), testSweep, reg, exec)
	require.NoError(t, err)

	// request context ending must not cancel the task
	reqCtx, cancel := context.WithCancel(t.Context())
	params := model.TaskParams{Year: 2024, Month: 5, Day: 1}
	id, err := s.Submit(reqCtx, params)
	cancel()
	require.NoError(t, err)

	job, ok := reg.Get(id)
	require.True(t, ok)
	require.Equal(t, model.StatusPending, job.Status)

	require.Eventually(t, func() bool {
		got, ok := exec.called(id)
		return ok && got == params
	}, time.Second, 5*time.Millisecond)

	close(exec.release)
	require.NoError(t, <-exec.errs)
	require.NoError(t, s.Close())
}

func TestSupervisorClose(t *testing.T) {
	t.Parallel()
	reg := jobs.NewRegistry()
	exec := newBlockingExecutor()
	s, err := service.NewSupervisor(t.Context(), testSweep, reg, exec)
	require.NoError(t, err)

	id, err := s.Submit(t.Context(), model.TaskParams{Year: 2024, Month: 5})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := exec.called(id)
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.ErrorIs(t, <-exec.errs, service.ErrShuttingDown)

	_, err = s.Submit(t.Context(), model.TaskParams{Year: 2024, Month: 6})
	require.ErrorIs(t, err, service.ErrShuttingDown)
	require.Equal(t, 1, reg.Len())

	// idempotent
	require.NoError(t, s.Close())
}

func TestSupervisorDo(t *testing.T) {
	t.Parallel()
	reg := jobs.NewRegistry()
	runner := service.NewTaskRunner(reg, scrape(t, `echo "PROGRESS:20:working"; sleep 30`), testCreds)
	s, err := service.NewSupervisor(t.Context(), testSweep, reg, runner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- s.Do(ctx)
	}()

	id, err := s.Submit(t.Context(), model.TaskParams{Year: 2024, Month: 5})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, _ := reg.Get(id)
		return job.Progress == 20
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	job, ok := reg.Get(id)
	require.True(t, ok)
	require.Equal(t, model.StatusFailed, job.Status)
	require.Contains(t, *job.Error, service.ErrShuttingDown.Error())
}

func TestSupervisorSweep(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var mx sync.Mutex
	clock := func() time.Time {
		mx.Lock()
		defer mx.Unlock()
		return now
	}
	reg := jobs.NewRegistry(jobs.WithClock(clock))
	s, err := service.NewSupervisor(t.Context(), testSweep, reg, newBlockingExecutor())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	old := reg.Create()
	mx.Lock()
	now = now.Add(23 * time.Hour)
	mx.Unlock()
	fresh := reg.Create()

	require.Equal(t, 0, s.Sweep(t.Context()))
	mx.Lock()
	now = now.Add(2 * time.Hour)
	mx.Unlock()
	require.Equal(t, 1, s.Sweep(t.Context()))

	_, ok := reg.Get(old)
	require.False(t, ok)
	_, ok = reg.Get(fresh)
	require.True(t, ok)
}

func TestNewSupervisorFail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    model.Sweep
	}{
		{"bad retention", model.Sweep{Retention: "1 day"}},
		{"zero retention", model.Sweep{Retention: "PT0S"}},
		{"bad cron", model.Sweep{Retention: "P1D", Cron: "not a cron"}},
		{"bad duration", model.Sweep{Retention: "P1D", Duration: "hourly"}},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := service.NewSupervisor(t.Context(), tc.given, jobs.NewRegistry(), newBlockingExecutor())
			require.Error(t, err)
		})
	}
}
