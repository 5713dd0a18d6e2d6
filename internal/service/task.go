package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/kantan-tools/kscrape/internal/jobs"
	"github.com/kantan-tools/kscrape/internal/log"
	"github.com/kantan-tools/kscrape/internal/metrics"
	"github.com/kantan-tools/kscrape/internal/model"
	"github.com/kantan-tools/kscrape/internal/protocol"
)

// DefaultTimeout is used when the task has no valid timeout configured
const DefaultTimeout = 5 * time.Minute

const (
	startProgress = 10

	msgRunning     = "scrape started"
	msgCompleted   = "scrape completed"
	msgFailed      = "scrape failed"
	msgSpawnFailed = "scrape could not be started"
	msgTimeout     = "scrape timed out"
	msgCanceled    = "scrape canceled"

	// stored as the job error when a failed scrape printed nothing to stderr
	unknownError = "scrape failed without an error output"
)

var ErrTimeout = errors.New("scrape timed out")

// TaskRunner runs the scrape script for a job and reports its progress and
// outcome to the registry.
type TaskRunner struct {
	registry *jobs.Registry
	proto    Command
	timeout  time.Duration
}

// NewTaskRunner builds the command prototype from the task configuration.
// The child environment is the host environment, cfg.Env,
// PYTHONUNBUFFERED=1 and the credentials.
func NewTaskRunner(registry *jobs.Registry, cfg model.Task, creds Credentials) *TaskRunner {
	env := os.Environ()
	env = append(env, cfg.Environ()...)
	env = append(env, "PYTHONUNBUFFERED=1")
	env = append(env, creds.Environ()...)

	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &TaskRunner{
		registry: registry,
		proto: Command{
			Path: cfg.Path,
			Args: append([]string(nil), cfg.Args...),
			Env:  env,
			Dir:  cfg.Dir,
		},
		timeout: timeout,
	}
}

// Timeout returns the time a scrape may run before it is killed
func (t *TaskRunner) Timeout() time.Duration {
	return t.timeout
}

// RunTask executes the scrape for an existing job and blocks until the job
// reached a terminal state. Every outcome is recorded in the registry; the
// returned error is informational only. Canceling ctx kills the scrape and
// fails the job.
func (t *TaskRunner) RunTask(ctx context.Context, id string, params model.TaskParams) error {
	ctx = log.WithJob(ctx, id)

	ok := t.registry.Update(id, model.JobUpdate{
		Status:   model.Ptr(model.StatusRunning),
		Progress: model.Ptr(startProgress),
		Message:  model.Ptr(msgRunning),
	})
	if !ok {
		return fmt.Errorf("job %s: %w", id, jobs.ErrNotFound)
	}

	res := &resolver{registry: t.registry, id: id}
	cmd := t.command(id, params)

	// written by the stdout reader only, read after Wait
	var csvFile string
	onLine := func(ctx context.Context, line string) {
		if csvFile == "" {
			if name, ok := protocol.ParseCSVFile(line); ok {
				csvFile = name
				slog.DebugContext(ctx, "csv file announced", "filename", name)
			}
		}
		p, ok := protocol.ParseProgress(line)
		if !ok {
			return
		}
		metrics.IncProgressEvent()
		slog.DebugContext(ctx, "progress", "progress", p.Percent, "message", p.Message)
		res.update(model.JobUpdate{
			Progress: model.Ptr(p.Percent),
			Message:  model.Ptr(p.Message),
		})
	}

	slog.InfoContext(ctx, "starting scrape", "path", cmd.Path, "args", cmd.Args, "timeout", t.timeout)
	proc, err := Start(ctx, cmd, onLine)
	if err != nil {
		res.resolve(ctx, reasonSpawn, failed(msgSpawnFailed, err.Error()))
		metrics.IncJobFinished(model.StatusFailed, reasonSpawn)
		return fmt.Errorf("starting scrape: %w", err)
	}
	finished := metrics.JobStarted()

	timer := time.AfterFunc(t.timeout, func() {
		text := fmt.Sprintf("scrape timed out after %s", t.timeout)
		if res.resolve(ctx, reasonTimeout, failed(msgTimeout, text)) {
			slog.WarnContext(ctx, "scrape timed out: killing", "timeout", t.timeout)
			proc.Kill()
		}
	})
	result := proc.Wait()
	timer.Stop()

	status, reason, upd, err := t.outcome(ctx, params, result, csvFile)
	if !res.resolve(ctx, reason, upd) {
		// the timer won
		status, reason = model.StatusFailed, res.winner()
		err = fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
	}
	finished(status, reason)

	slog.InfoContext(ctx, "scrape finished",
		"status", status,
		"reason", reason,
		"exit_code", result.ExitCode(),
		"duration", result.Stopped.Sub(result.Started),
	)
	return err
}

func (t *TaskRunner) command(id string, params model.TaskParams) Command {
	cmd := t.proto
	cmd.Args = append(append([]string(nil), t.proto.Args...), params.Args(id)...)
	return cmd
}

const (
	reasonExit     = "exit"
	reasonExitCode = "exit_code"
	reasonSpawn    = "spawn"
	reasonTimeout  = "timeout"
	reasonCanceled = "canceled"
)

// outcome maps the process result to the terminal job update
func (t *TaskRunner) outcome(ctx context.Context, params model.TaskParams, result Result, csvFile string) (model.Status, string, model.JobUpdate, error) {
	// exec.ErrWaitDelay means the process succeeded, something else kept the
	// pipes open
	if result.Err == nil || errors.Is(result.Err, exec.ErrWaitDelay) {
		filename := csvFile
		if filename == "" {
			filename = params.DefaultFilename()
		}
		upd := model.JobUpdate{
			Status:   model.Ptr(model.StatusCompleted),
			Progress: model.Ptr(100),
			Message:  model.Ptr(msgCompleted),
			Result: &model.Result{
				Filename:    filename,
				DownloadURL: protocol.DownloadURL(filename),
			},
		}
		return model.StatusCompleted, reasonExit, upd, nil
	}

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		return model.StatusFailed, reasonCanceled,
			failed(msgCanceled, "scrape canceled: "+cause.Error()),
			fmt.Errorf("scrape canceled: %w", cause)
	}

	var exitErr *exec.ExitError
	if errors.As(result.Err, &exitErr) {
		text := result.Stderr
		if text == "" {
			text = unknownError
		}
		return model.StatusFailed, reasonExitCode,
			failed(msgFailed, text),
			fmt.Errorf("scrape exited with code %d", exitErr.ExitCode())
	}

	return model.StatusFailed, reasonExitCode,
		failed(msgFailed, result.Err.Error()),
		fmt.Errorf("waiting for scrape: %w", result.Err)
}

func failed(message, text string) model.JobUpdate {
	return model.JobUpdate{
		Status:   model.Ptr(model.StatusFailed),
		Progress: model.Ptr(0),
		Message:  model.Ptr(message),
		Error:    model.Ptr(text),
	}
}

// resolver guards the single terminal transition of one job. Progress
// updates are dropped once the job is resolved.
type resolver struct {
	registry *jobs.Registry
	id       string

	mx       sync.Mutex
	resolved bool
	reason   string
}

func (r *resolver) update(upd model.JobUpdate) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.resolved {
		return
	}
	r.registry.Update(r.id, upd)
}

// resolve records the terminal state and reports whether this call won
func (r *resolver) resolve(ctx context.Context, reason string, upd model.JobUpdate) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.resolved {
		return false
	}
	r.resolved = true
	r.reason = reason

	err := r.registry.Finish(r.id, upd)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		slog.DebugContext(ctx, "job evicted before the scrape finished")
	case err != nil:
		slog.WarnContext(ctx, "recording the job outcome failed", "error", err)
	}
	return true
}

func (r *resolver) winner() string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.reason
}
