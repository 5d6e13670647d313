package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/actionsync/backend/internal/config"
	"github.com/actionsync/backend/internal/model/event"
	"github.com/actionsync/backend/internal/service/agent"
	"github.com/actionsync/backend/internal/service/connection"
	"github.com/actionsync/backend/internal/service/embedding"
	meetingservice "github.com/actionsync/backend/internal/service/meeting"
	processingservice "github.com/actionsync/backend/internal/service/processing"
	"github.com/actionsync/backend/internal/service/session"
	workservice "github.com/actionsync/backend/internal/service/work"
	"github.com/actionsync/backend/internal/store"
)

// fakeEngine answers every turn with a fixed reply.
type fakeEngine struct {
	reply string
}

func (e *fakeEngine) Start(context.Context, agent.Options) (agent.Handle, error) {
	return &fakeHandle{reply: e.reply}, nil
}

type fakeHandle struct {
	reply string
}

func (h *fakeHandle) Submit(ctx context.Context, prompt string) (*event.Stream, error) {
	stream := event.NewStream(8)
	go func() {
		defer stream.Close()
		stream.Send(event.Text(h.reply))
		stream.Send(event.Result(h.reply))
	}()
	return stream, nil
}

func (h *fakeHandle) Close() error { return nil }

// recordingConn captures broadcast events.
type recordingConn struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *recordingConn) Send(ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) terminal() *event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		switch ev.Type {
		case event.TypeComplete, event.TypeAborted, event.TypeError:
			return &ev
		}
	}
	return nil
}

type fixture struct {
	router http.Handler
	runner *processingservice.Runner
	conns  *connection.Manager
	store  *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine := &fakeEngine{reply: "nothing actionable"}
	sessions := session.NewManager(time.Minute, time.Minute)
	t.Cleanup(sessions.Shutdown)
	index := embedding.NewService(st, nil)
	conns := connection.NewManager()
	runner := processingservice.NewRunner(processingservice.NewGuard(), conns)
	meetings := meetingservice.NewProcessor(engine, st, index, sessions)
	work := workservice.NewProcessor(engine, st, config.WorkConfig{Dir: t.TempDir(), CloneTimeout: time.Second})

	r := chi.NewRouter()
	New(runner, meetings, work).RegisterRoutes(r)
	return &fixture{router: r, runner: runner, conns: conns, store: st}
}

func postJSON(t *testing.T, router http.Handler, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("X-User-ID", userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStatusIdle(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/processing/status", nil)
	req.Header.Set("X-User-ID", "alice")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status processingservice.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.IsProcessing || status.IsMine {
		t.Fatalf("expected idle status, got %+v", status)
	}
}

func TestAbortWithoutJob(t *testing.T) {
	f := newFixture(t)
	w := postJSON(t, f.router, "/processing/abort", "alice", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAbortForeignJobForbidden(t *testing.T) {
	f := newFixture(t)
	if err := f.runner.Guard().Acquire("bob", nil); err != nil {
		t.Fatalf("failed to acquire guard: %v", err)
	}
	defer f.runner.Guard().Release()

	w := postJSON(t, f.router, "/processing/abort", "alice", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestProcessMeetingValidation(t *testing.T) {
	f := newFixture(t)

	w := postJSON(t, f.router, "/meetings/process", "alice", map[string]string{"projectKey": "CORE"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing transcription should 400, got %d", w.Code)
	}

	w = postJSON(t, f.router, "/meetings/process", "", map[string]string{"transcription": "hello"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing identity should 400, got %d", w.Code)
	}
}

func TestProcessMeetingRejectedWhileBusy(t *testing.T) {
	f := newFixture(t)
	if err := f.runner.Guard().Acquire("bob", nil); err != nil {
		t.Fatalf("failed to acquire guard: %v", err)
	}
	defer f.runner.Guard().Release()

	w := postJSON(t, f.router, "/meetings/process", "alice", map[string]string{"transcription": "hello"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestProcessMeetingStartsAndReportsError(t *testing.T) {
	f := newFixture(t)

	// No tracker config stored: the job starts, then fails in-stream.
	conn := &recordingConn{}
	f.conns.Register("alice", conn)
	defer f.conns.Unregister("alice", conn)

	w := postJSON(t, f.router, "/meetings/process", "alice", map[string]string{"transcription": "hello"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	deadline := time.After(2 * time.Second)
	for conn.terminal() == nil {
		select {
		case <-deadline:
			t.Fatal("no terminal event before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	ev := conn.terminal()
	if ev.Type != event.TypeError {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

func TestAskSessionWithoutConfig(t *testing.T) {
	f := newFixture(t)
	w := postJSON(t, f.router, "/jira/ask/session", "alice", map[string]string{"question": "status?"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tracker config, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAskSessionStaleSession(t *testing.T) {
	f := newFixture(t)
	// A stale session id must 404 before any config lookup happens.
	w := postJSON(t, f.router, "/jira/ask/session", "alice", map[string]string{
		"question":  "status?",
		"sessionId": "does-not-exist",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for stale session, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartWorkValidation(t *testing.T) {
	f := newFixture(t)
	w := postJSON(t, f.router, "/work/start", "alice", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
