package connection_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/actionsync/backend/internal/model/event"
	"github.com/actionsync/backend/internal/service/connection"
)

type fakeConn struct {
	mu     sync.Mutex
	events []event.Event
	fail   bool
}

func (c *fakeConn) Send(ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection reset")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) received() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	m := connection.NewManager()
	a, b := &fakeConn{}, &fakeConn{}
	m.Register("u1", a)
	m.Register("u1", b)

	m.Broadcast("u1", event.Text("hello"))

	for _, c := range []*fakeConn{a, b} {
		got := c.received()
		if len(got) != 1 || got[0].Content != "hello" {
			t.Fatalf("expected one hello event, got %v", got)
		}
	}
}

func TestBroadcastDropsDeadConnection(t *testing.T) {
	m := connection.NewManager()
	alive, dead := &fakeConn{}, &fakeConn{fail: true}
	m.Register("u3", alive)
	m.Register("u3", dead)

	m.Broadcast("u3", event.Text("first"))

	if m.Count("u3") != 1 {
		t.Fatalf("expected 1 surviving connection, got %d", m.Count("u3"))
	}
	if got := alive.received(); len(got) != 1 {
		t.Fatalf("surviving connection should have 1 event, got %d", len(got))
	}

	m.Broadcast("u3", event.Text("second"))
	if got := alive.received(); len(got) != 2 {
		t.Fatalf("expected 2 events on survivor, got %d", len(got))
	}
}

func TestBroadcastToUnknownUserIsNoOp(t *testing.T) {
	m := connection.NewManager()
	m.Broadcast("ghost", event.Text("x"))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	m := connection.NewManager()
	c := &fakeConn{}
	m.Register("u2", c)
	m.Unregister("u2", c)
	m.Unregister("u2", c)

	if m.Count("u2") != 0 {
		t.Fatalf("expected empty bucket, got %d", m.Count("u2"))
	}
}

func TestEventOrderingPerUser(t *testing.T) {
	m := connection.NewManager()
	c := &fakeConn{}
	m.Register("u4", c)

	for i := 0; i < 50; i++ {
		m.Broadcast("u4", event.Text(string(rune('a'+i%26))))
	}

	got := c.received()
	if len(got) != 50 {
		t.Fatalf("expected 50 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Content != string(rune('a'+i%26)) {
			t.Fatalf("event %d out of order: %q", i, ev.Content)
		}
	}
}

func TestConcurrentRegisterBroadcast(t *testing.T) {
	m := connection.NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			m.Register("u5", c)
			m.Broadcast("u5", event.Text("tick"))
			m.Unregister("u5", c)
		}()
	}
	wg.Wait()

	if m.Count("u5") != 0 {
		t.Fatalf("expected all connections unregistered, got %d", m.Count("u5"))
	}
}
