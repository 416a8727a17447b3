package job

import (
	"context"
	"fmt"

	"github.com/dkrish7/osprey/model"
)

// Store is the persistence surface the lifecycle needs; the pgx repository
// satisfies it in production.
type Store interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, owner string, offset string) ([]*model.Job, error)
	// UpdateFrom writes the row only while its status still equals from and
	// reports whether the write landed. Status moves race each other (a
	// cancel against the worker's terminal write, most notably) and the
	// guard makes the first writer win.
	UpdateFrom(ctx context.Context, job *model.Job, from model.JobStatus) (bool, error)
	// UpdateProgress touches only the progress column and only while the job
	// is still running, so it can never clobber a concurrent cancel.
	UpdateProgress(ctx context.Context, id string, progress int) error
}

// Notifier fans a lifecycle event out to the owner's subscribed endpoints.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, event string, data any)
}

// Lifecycle event names carried in webhook payloads.
const (
	EventCreated   = "job.created"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
)

// transitions is the complete set of legal status moves. failed to pending
// exists only for the explicit retry operation; cancellation from a terminal
// state is not a move.
var transitions = map[model.JobStatus]map[model.JobStatus]bool{
	model.JobPending: {
		model.JobRunning:   true,
		model.JobCancelled: true,
	},
	model.JobRunning: {
		model.JobCompleted: true,
		model.JobFailed:    true,
		model.JobCancelled: true,
	},
	model.JobFailed: {
		model.JobPending: true,
	},
}

type TransitionError struct {
	JobID string
	From  model.JobStatus
	To    model.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

// Transition mutates job.Status after checking the move is legal.
func Transition(job *model.Job, to model.JobStatus) error {
	if !transitions[job.Status][to] {
		return &TransitionError{JobID: job.ID.String(), From: job.Status, To: to}
	}
	job.Status = to
	return nil
}

func IsTerminal(s model.JobStatus) bool {
	return s == model.JobCompleted || s == model.JobFailed || s == model.JobCancelled
}
