package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/actionsync/backend/internal/model/event"
	"github.com/actionsync/backend/internal/service/agent"
	"github.com/actionsync/backend/internal/service/session"
)

type fakeHandle struct {
	closes atomic.Int32
}

func (h *fakeHandle) Submit(_ context.Context, _ string) (*event.Stream, error) {
	s := event.NewStream(1)
	s.Send(event.Result("ok"))
	s.Close()
	return s, nil
}

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	return nil
}

func startWith(h agent.Handle) session.StartFunc {
	return func(context.Context) (agent.Handle, error) { return h, nil }
}

func TestCreateGetClose(t *testing.T) {
	m := session.NewManager(time.Minute, time.Minute)
	h := &fakeHandle{}

	s, err := m.Create(context.Background(), "u1", startWith(h))
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	got, ok := m.Get(s.ID)
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.ID != s.ID || got.UserID != "u1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Handle != agent.Handle(h) {
		t.Fatal("engine handle changed between create and get")
	}

	m.Close(s.ID)
	if _, ok := m.Get(s.ID); ok {
		t.Fatal("expected session gone after close")
	}
	if n := h.closes.Load(); n != 1 {
		t.Fatalf("handle closed %d times, want 1", n)
	}
}

func TestCreateReplacesExistingSession(t *testing.T) {
	m := session.NewManager(time.Minute, time.Minute)
	first := &fakeHandle{}
	second := &fakeHandle{}

	s1, err := m.Create(context.Background(), "u1", startWith(first))
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	s2, err := m.Create(context.Background(), "u1", startWith(second))
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	if m.Len() != 1 {
		t.Fatalf("expected exactly 1 session, got %d", m.Len())
	}
	if _, ok := m.Get(s1.ID); ok {
		t.Fatal("first session should be closed")
	}
	if n := first.closes.Load(); n != 1 {
		t.Fatalf("first handle closed %d times, want 1", n)
	}

	got, ok := m.GetUserSession("u1")
	if !ok || got.ID != s2.ID {
		t.Fatalf("expected user session %s, got %+v ok=%v", s2.ID, got, ok)
	}
}

func TestCreateStartFailureLeavesNoSession(t *testing.T) {
	m := session.NewManager(time.Minute, time.Minute)
	old := &fakeHandle{}
	if _, err := m.Create(context.Background(), "u1", startWith(old)); err != nil {
		t.Fatalf("Create err: %v", err)
	}

	boom := errors.New("engine unavailable")
	_, err := m.Create(context.Background(), "u1", func(context.Context) (agent.Handle, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected engine error, got %v", err)
	}

	// The old session was closed before the failed start; the user has none.
	if m.Len() != 0 {
		t.Fatalf("expected 0 sessions, got %d", m.Len())
	}
	if n := old.closes.Load(); n != 1 {
		t.Fatalf("old handle closed %d times, want 1", n)
	}
}

func TestReaperClosesIdleSessions(t *testing.T) {
	m := session.NewManager(100*time.Millisecond, 20*time.Millisecond)
	h := &fakeHandle{}
	if _, err := m.Create(context.Background(), "u1", startWith(h)); err != nil {
		t.Fatalf("Create err: %v", err)
	}
	m.Start()
	defer m.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Len() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if m.Len() != 0 {
		t.Fatal("expected idle session to be reaped")
	}
	if _, ok := m.GetUserSession("u1"); ok {
		t.Fatal("user index should be empty after reap")
	}
	if n := h.closes.Load(); n != 1 {
		t.Fatalf("handle closed %d times, want 1", n)
	}
}

func TestReaperSkipsProcessingSessions(t *testing.T) {
	m := session.NewManager(30*time.Millisecond, 10*time.Millisecond)
	h := &fakeHandle{}
	s, err := m.Create(context.Background(), "u1", startWith(h))
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	if !m.SetProcessing(s.ID, true) {
		t.Fatal("SetProcessing should find the session")
	}
	m.Start()

	// Idle timeout elapses many times over while the turn is in flight;
	// repeated reaper scans must leave the session alone.
	time.Sleep(150 * time.Millisecond)
	if m.Len() != 1 {
		t.Fatal("processing session must never be reaped")
	}

	m.SetProcessing(s.ID, false)
	m.Shutdown()
	if n := h.closes.Load(); n != 1 {
		t.Fatalf("handle closed %d times, want 1", n)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	m := session.NewManager(time.Hour, time.Hour)
	h1, h2 := &fakeHandle{}, &fakeHandle{}
	if _, err := m.Create(context.Background(), "u1", startWith(h1)); err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if _, err := m.Create(context.Background(), "u2", startWith(h2)); err != nil {
		t.Fatalf("Create err: %v", err)
	}

	m.Shutdown()

	if m.Len() != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", m.Len())
	}
	if h1.closes.Load() != 1 || h2.closes.Load() != 1 {
		t.Fatal("every handle must be closed exactly once on shutdown")
	}
}

func TestCloseHandleFailureStillRemovesSession(t *testing.T) {
	m := session.NewManager(time.Minute, time.Minute)
	s, err := m.Create(context.Background(), "u1", func(context.Context) (agent.Handle, error) {
		return stubbornHandle{}, nil
	})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	m.Close(s.ID)
	if m.Len() != 0 {
		t.Fatal("session must be removed even when the handle refuses to close")
	}
}

type stubbornHandle struct{}

func (stubbornHandle) Submit(context.Context, string) (*event.Stream, error) {
	return nil, errors.New("unavailable")
}

func (stubbornHandle) Close() error { return errors.New("handle stuck") }
