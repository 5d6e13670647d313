package processing

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type noopJob struct {
	cancelled atomic.Bool
}

func (j *noopJob) Cancel() { j.cancelled.Store(true) }

func TestAcquireReleaseCycle(t *testing.T) {
	g := NewGuard()

	if err := g.Acquire("u1", &noopJob{}); err != nil {
		t.Fatalf("Acquire err: %v", err)
	}
	if err := g.Acquire("u2", &noopJob{}); !errors.Is(err, ErrAlreadyBusy) {
		t.Fatalf("expected ErrAlreadyBusy, got %v", err)
	}

	g.Release()
	if err := g.Acquire("u2", &noopJob{}); err != nil {
		t.Fatalf("Acquire after release err: %v", err)
	}
}

func TestAbortOwnership(t *testing.T) {
	g := NewGuard()

	if err := g.Abort("u1"); !errors.Is(err, ErrNothingToAbort) {
		t.Fatalf("expected ErrNothingToAbort, got %v", err)
	}

	job := &noopJob{}
	if err := g.Acquire("u1", job); err != nil {
		t.Fatalf("Acquire err: %v", err)
	}

	if err := g.Abort("u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if job.cancelled.Load() {
		t.Fatal("foreign abort must not cancel the job")
	}

	if err := g.Abort("u1"); err != nil {
		t.Fatalf("owner abort err: %v", err)
	}
	if !job.cancelled.Load() {
		t.Fatal("owner abort must cancel the job")
	}

	// Abort does not transition the slot; the job's own release does.
	if st := g.Status("u1"); !st.IsProcessing || !st.IsMine {
		t.Fatalf("slot should still read busy for the owner, got %+v", st)
	}
	g.Release()
	if st := g.Status("u1"); st.IsProcessing {
		t.Fatalf("slot should be idle after release, got %+v", st)
	}
}

func TestStatusPerspective(t *testing.T) {
	g := NewGuard()
	if err := g.Acquire("u1", &noopJob{}); err != nil {
		t.Fatalf("Acquire err: %v", err)
	}
	defer g.Release()

	if st := g.Status("u1"); !st.IsProcessing || !st.IsMine {
		t.Fatalf("owner status wrong: %+v", st)
	}
	if st := g.Status("u2"); !st.IsProcessing || st.IsMine {
		t.Fatalf("stranger status wrong: %+v", st)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	g := NewGuard()

	const attempts = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire("u", &noopJob{}) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins.Load())
	}
	g.Release()

	// Acquire/release counts stay balanced across repeated cycles.
	for i := 0; i < 10; i++ {
		if err := g.Acquire("u", &noopJob{}); err != nil {
			t.Fatalf("cycle %d Acquire err: %v", i, err)
		}
		g.Release()
	}
}
