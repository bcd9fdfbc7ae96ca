package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Dispatcher bounds how many provider calls run at once so that slow calls
// for one user cannot exhaust the process.
type Dispatcher struct {
	sem *semaphore.Weighted
}

func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{sem: semaphore.NewWeighted(int64(workers))}
}

// JobError is returned by Do when a job fails or never starts. ID matches the
// id logged for the job.
type JobError struct {
	Name    string
	ID      string
	Started bool
	Err     error
}

func (e *JobError) Error() string {
	if !e.Started {
		return fmt.Sprintf("job %s %s not started: %v", e.Name, e.ID, e.Err)
	}
	return fmt.Sprintf("job %s %s: %v", e.Name, e.ID, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

type jobIDKey struct{}

// JobID returns the id of the dispatcher job running under ctx, or "".
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// Do runs job once a worker slot is free. It returns early with ctx's error
// when ctx ends while waiting. Errors are *JobError.
func (d *Dispatcher) Do(ctx context.Context, name string, job func(ctx context.Context) error) error {
	id := uuid.NewString()
	if err := d.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("job not started", "job", name, "job_id", id, "err", err)
		return &JobError{Name: name, ID: id, Err: err}
	}
	defer d.sem.Release(1)

	start := time.Now()
	err := job(context.WithValue(ctx, jobIDKey{}, id))
	slog.Debug("job finished", "job", name, "job_id", id, "duration", time.Since(start), "err", err)
	if err != nil {
		return &JobError{Name: name, ID: id, Started: true, Err: err}
	}
	return nil
}
