package service

import (
	"context"
	"fmt"

	"github.com/kantan-tools/kscrape/internal/jobs"
	"github.com/kantan-tools/kscrape/internal/model"
)

// Run implements CLI run command: one scrape in the foreground against a
// private registry. The returned job is always in a terminal state unless an
// error is returned.
func Run(ctx context.Context, config model.Config, params model.TaskParams, creds Credentials) (model.Job, error) {
	registry := jobs.NewRegistry()
	runner := NewTaskRunner(registry, config.Task, creds)

	id := registry.Create()
	// the outcome is in the job, the error only explains it
	_ = runner.RunTask(ctx, id, params)

	job, ok := registry.Get(id)
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, jobs.ErrNotFound)
	}
	return job, nil
}
