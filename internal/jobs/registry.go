// Package jobs keeps the state of submitted scrapes.
//
// A Registry owns every job record. Callers get copies from Get and change a
// record only through Update and Finish, so a reader never observes a
// partially written job. Runners hold just the job id; when the record has
// been swept meanwhile their updates are silently dropped.
//
// State machine:
//
//	pending -> running -> completed
//	                   -> failed
//
// Finish is the only way into a terminal state and the first call wins.
package jobs

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kantan-tools/kscrape/internal/model"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyFinished = errors.New("job already finished")
	ErrNotTerminal     = errors.New("status is not terminal")
)

const (
	idPrefix       = "job_"
	pendingMessage = "waiting for the scrape to start"
)

type Registry struct {
	mx      sync.RWMutex
	jobs    map[string]*model.Job
	now     func() time.Time
	entropy io.Reader
}

type Option func(*Registry)

// WithClock replaces time.Now, useful for tests of Sweep
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs:    make(map[string]*model.Job),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new pending job and returns its id. Ids are ULIDs: a
// millisecond timestamp followed by randomness which increases monotonically
// within the same millisecond, so an id is never handed out twice.
func (r *Registry) Create() string {
	r.mx.Lock()
	defer r.mx.Unlock()

	now := r.now()
	var id string
	for {
		id = idPrefix + ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
		if _, ok := r.jobs[id]; !ok {
			break
		}
	}
	r.jobs[id] = &model.Job{
		ID:        id,
		Status:    model.StatusPending,
		Progress:  0,
		Message:   pendingMessage,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id
}

// Get returns a snapshot of the job
func (r *Registry) Get(id string) (model.Job, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return j.Clone(), true
}

// Len returns number of tracked jobs
func (r *Registry) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.jobs)
}

// Update merges non-nil fields of upd into the job and refreshes UpdatedAt.
// Unknown ids are ignored, the return value says if the job existed.
func (r *Registry) Update(id string, upd model.JobUpdate) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false
	}
	r.apply(j, upd)
	return true
}

// Finish moves a job into a terminal state. Completed jobs must carry a
// Result and failed jobs an Error; the other one is cleared. Returns
// ErrNotFound for unknown ids and ErrAlreadyFinished if a terminal state has
// already been recorded, in which case the job is left untouched.
func (r *Registry) Finish(id string, upd model.JobUpdate) error {
	if upd.Status == nil || !upd.Status.Terminal() {
		return ErrNotTerminal
	}
	switch *upd.Status {
	case model.StatusCompleted:
		if upd.Result == nil {
			return fmt.Errorf("completed job %s: missing result", id)
		}
	case model.StatusFailed:
		if upd.Error == nil {
			return fmt.Errorf("failed job %s: missing error", id)
		}
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrAlreadyFinished
	}
	r.apply(j, upd)
	if j.Status == model.StatusCompleted {
		j.Error = nil
	} else {
		j.Result = nil
	}
	return nil
}

// Delete removes the job, unknown ids are ignored
func (r *Registry) Delete(id string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.jobs, id)
}

// Sweep removes jobs not updated for longer than retention and returns how
// many were removed. Jobs updated exactly at the boundary are kept.
func (r *Registry) Sweep(retention time.Duration) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	cutoff := r.now().Add(-retention)
	var removed int
	for id, j := range r.jobs {
		if j.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// apply must be called with mx held
func (r *Registry) apply(j *model.Job, upd model.JobUpdate) {
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.Progress != nil {
		j.Progress = *upd.Progress
	}
	if upd.Message != nil {
		j.Message = *upd.Message
	}
	if upd.Result != nil {
		res := *upd.Result
		j.Result = &res
	}
	if upd.Error != nil {
		e := *upd.Error
		j.Error = &e
	}
	now := r.now()
	if now.Before(j.UpdatedAt) {
		// wall clock stepped back
		now = j.UpdatedAt
	}
	j.UpdatedAt = now
}
