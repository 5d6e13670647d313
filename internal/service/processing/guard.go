// Package processing serializes the expensive agent jobs: at most one
// meeting, question, or ticket job runs per server instance at a time.
package processing

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrAlreadyBusy    = errors.New("another task is being processed")
	ErrForbidden      = errors.New("cannot abort another user's task")
	ErrNothingToAbort = errors.New("no task is processing")
)

// Job is the guard's view of a running unit of work: enough to request its
// cancellation.
type Job interface {
	Cancel()
}

// Status is the answer to "is the server busy, and is it my job?".
type Status struct {
	IsProcessing bool `json:"isProcessing"`
	IsMine       bool `json:"isMine"`
}

// Guard is the process-wide single-flight slot. Acquire and Release always
// come in pairs; Abort only requests cancellation and leaves the slot Busy
// until the cancelled job releases it itself.
type Guard struct {
	mu      sync.Mutex
	busy    bool
	ownerID string
	job     Job
}

// NewGuard returns an idle guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Acquire claims the slot for the owner's job. Fails with ErrAlreadyBusy if
// any job currently holds it.
func (g *Guard) Acquire(ownerID string, job Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return ErrAlreadyBusy
	}
	g.busy = true
	g.ownerID = ownerID
	g.job = job
	return nil
}

// Release frees the slot unconditionally. Must be called exactly once per
// successful Acquire, on every exit path.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.busy = false
	g.ownerID = ""
	g.job = nil
}

// Abort requests cancellation of the running job. Only the owner may abort;
// the slot stays busy until the job unwinds and calls Release.
func (g *Guard) Abort(requesterID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.busy {
		return ErrNothingToAbort
	}
	if g.ownerID != requesterID {
		return ErrForbidden
	}
	if g.job != nil {
		g.job.Cancel()
	}
	return nil
}

// Status reports the slot state from the requester's point of view.
func (g *Guard) Status(requesterID string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Status{
		IsProcessing: g.busy,
		IsMine:       g.busy && g.ownerID == requesterID,
	}
}

// cancelJob adapts a context.CancelFunc to the Job interface.
type cancelJob struct {
	cancel context.CancelFunc
}

func (j *cancelJob) Cancel() {
	j.cancel()
}
