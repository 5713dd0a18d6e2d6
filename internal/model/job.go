package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a snapshot of a tracked scrape. Progress is advisory: values are
// stored as reported and may go backwards.
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Result    *Result   `json:"result,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Result references the produced artifact
type Result struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
}

// JobUpdate carries the fields to merge into a job, nil fields are left
// untouched.
type JobUpdate struct {
	Status   *Status
	Progress *int
	Message  *string
	Result   *Result
	Error    *string
}

// Clone returns a deep copy, so the caller may not alter registry state.
func (j Job) Clone() Job {
	if j.Result != nil {
		r := *j.Result
		j.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	return j
}

// TaskParams are the arguments of one scrape. Day zero means the whole month.
type TaskParams struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day,omitempty"`
}

// Args renders the parameters as command line arguments of the scrape script
func (p TaskParams) Args(jobID string) []string {
	args := []string{
		"--year", fmt.Sprint(p.Year),
		"--month", fmt.Sprint(p.Month),
	}
	if p.Day != 0 {
		args = append(args, "--day", fmt.Sprint(p.Day))
	}
	return append(args, "--job-id", jobID)
}

// DefaultFilename is used when the scrape does not announce its output file
func (p TaskParams) DefaultFilename() string {
	return fmt.Sprintf("schedule_%d_%d.csv", p.Year, p.Month)
}

func Ptr[T any](v T) *T {
	return &v
}
