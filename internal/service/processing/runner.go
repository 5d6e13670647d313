package processing

import (
	"context"
	"fmt"
	"log"

	"github.com/actionsync/backend/internal/model/event"
	"github.com/actionsync/backend/internal/service/connection"
)

// Outcome is what a job hands back on natural completion; it becomes the
// terminal complete event seen by every client of the owner.
type Outcome struct {
	Success bool
	Summary string
}

// WorkFunc is the body of a background job. It must honor ctx cancellation
// at every blocking call and may emit progress through the sink at any time.
type WorkFunc func(ctx context.Context, sink event.Sink) (Outcome, error)

// Runner launches guarded background jobs and wires their events to the
// owner's connections.
type Runner struct {
	guard *Guard
	conns *connection.Manager
}

// NewRunner wires the runner to the shared guard and connection registry.
func NewRunner(guard *Guard, conns *connection.Manager) *Runner {
	return &Runner{guard: guard, conns: conns}
}

// Guard exposes the underlying guard for status and abort queries.
func (r *Runner) Guard() *Guard {
	return r.guard
}

// Run acquires the single-flight slot for the owner and, on success, starts
// work in the background. The synchronous return only reports acquisition:
// ErrAlreadyBusy means nothing was started. Exactly one terminal event
// (complete, aborted, or error) is broadcast per run, and the slot is
// released exactly once no matter how the job ends.
func (r *Runner) Run(ownerID string, work WorkFunc) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.guard.Acquire(ownerID, &cancelJob{cancel: cancel}); err != nil {
		cancel()
		return err
	}

	sink := r.conns.Sink(ownerID)
	go func() {
		defer cancel()
		defer r.guard.Release()

		outcome, err := r.runRecovered(ctx, sink, work)
		switch {
		case ctx.Err() != nil:
			log.Printf("[processing] job aborted owner=%s", ownerID)
			sink(event.Aborted())
		case err != nil:
			log.Printf("[processing] job failed owner=%s: %v", ownerID, err)
			sink(event.Error(err.Error()))
		default:
			sink(event.Complete(outcome.Success, outcome.Summary))
		}
	}()

	return nil
}

// runRecovered keeps a panicking job from escaping and corrupting the guard.
func (r *Runner) runRecovered(ctx context.Context, sink event.Sink, work WorkFunc) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return work(ctx, sink)
}
