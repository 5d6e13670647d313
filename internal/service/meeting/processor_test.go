package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/actionsync/backend/internal/model/event"
	"github.com/actionsync/backend/internal/model/project"
	"github.com/actionsync/backend/internal/service/agent"
	"github.com/actionsync/backend/internal/service/embedding"
	"github.com/actionsync/backend/internal/service/session"
	"github.com/actionsync/backend/internal/store"
)

// scriptedEngine replies with a fixed text per turn, in order.
type scriptedEngine struct {
	mu      sync.Mutex
	replies []string
}

func (e *scriptedEngine) Start(context.Context, agent.Options) (agent.Handle, error) {
	return &scriptedHandle{engine: e}, nil
}

type scriptedHandle struct {
	engine *scriptedEngine
	closed bool
}

func (h *scriptedHandle) Submit(ctx context.Context, prompt string) (*event.Stream, error) {
	if h.closed {
		return nil, agent.ErrHandleClosed
	}
	h.engine.mu.Lock()
	reply := "done"
	if len(h.engine.replies) > 0 {
		reply = h.engine.replies[0]
		h.engine.replies = h.engine.replies[1:]
	}
	h.engine.mu.Unlock()

	stream := event.NewStream(8)
	go func() {
		defer stream.Close()
		stream.Send(event.Text(reply))
		stream.Send(event.Result(reply))
	}()
	return stream, nil
}

func (h *scriptedHandle) Close() error {
	h.closed = true
	return nil
}

// fakeJira is a minimal Jira API double recording created issues.
type fakeJira struct {
	mu      sync.Mutex
	created []map[string]any
}

func (f *fakeJira) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/api/3/search/jql", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{"key": "CORE-1", "fields": map[string]any{
					"summary":   "Existing ticket",
					"status":    map[string]string{"name": "To Do"},
					"issuetype": map[string]string{"name": "Task"},
				}},
			},
		})
	})
	mux.HandleFunc("POST /rest/api/3/issue", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created = append(f.created, body)
		n := len(f.created)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"key": fmt.Sprintf("CORE-%d", n+1)})
	})
	return mux
}

func (f *fakeJira) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newProcessorFixture(t *testing.T, engine agent.Engine, jiraURL string) (*Processor, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if err := st.SaveTrackerConfig(ctx, project.TrackerConfig{
		UserID:       "alice",
		JiraBaseURL:  jiraURL,
		JiraEmail:    "alice@example.com",
		JiraAPIToken: "token",
	}); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	if _, err := st.SaveProject(ctx, project.Project{
		UserID: "alice", ProjectKey: "CORE", ProjectName: "Core", IsDefault: true,
	}); err != nil {
		t.Fatalf("failed to save project: %v", err)
	}

	sessions := session.NewManager(time.Minute, time.Minute)
	t.Cleanup(sessions.Shutdown)
	index := embedding.NewService(st, nil)
	return NewProcessor(engine, st, index, sessions), st
}

func TestProcessCreatesTicketsAndPersistsMeeting(t *testing.T) {
	reply := `We need a ticket for the login fix.

` + "```json" + `
[{"action": "create_issue", "summary": "Fix login timeout", "issueType": "Bug"}]
` + "```"
	engine := &scriptedEngine{replies: []string{reply}}

	jiraFake := &fakeJira{}
	srv := httptest.NewServer(jiraFake.handler())
	defer srv.Close()

	p, st := newProcessorFixture(t, engine, srv.URL)

	var mu sync.Mutex
	var events []event.Event
	sink := func(ev event.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	outcome, err := p.Process(context.Background(), sink, ProcessInput{
		UserID:        "alice",
		Transcription: "we discussed the login timeout bug",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if !strings.Contains(outcome.Summary, "login fix") {
		t.Fatalf("summary should carry the prose part, got %q", outcome.Summary)
	}
	if strings.Contains(outcome.Summary, "```") {
		t.Fatalf("summary should not carry the action block: %q", outcome.Summary)
	}

	if jiraFake.createdCount() != 1 {
		t.Fatalf("expected 1 created issue, got %d", jiraFake.createdCount())
	}
	// The created issue carries the meeting-notes label.
	fields := jiraFake.created[0]["fields"].(map[string]any)
	labels, _ := fields["labels"].([]any)
	found := false
	for _, l := range labels {
		if l == "meeting-notes" {
			found = true
		}
	}
	if !found {
		t.Fatalf("created issue missing meeting-notes label: %v", fields)
	}

	// The meeting was persisted with the created ticket key.
	meetings, err := st.ListMeetings(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("failed to list meetings: %v", err)
	}
	if len(meetings) != 1 {
		t.Fatalf("expected 1 stored meeting, got %d", len(meetings))
	}
	if len(meetings[0].TicketsCreated) == 0 {
		t.Fatalf("stored meeting has no ticket keys: %+v", meetings[0])
	}

	// The run emitted tool events for context gathering and execution.
	mu.Lock()
	defer mu.Unlock()
	var toolUses int
	for _, ev := range events {
		if ev.Type == event.TypeToolUse {
			toolUses++
		}
	}
	if toolUses < 2 {
		t.Fatalf("expected jira search and create tool events, got %d tool uses", toolUses)
	}
}

func TestProcessWithoutConfigFails(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	sessions := session.NewManager(time.Minute, time.Minute)
	defer sessions.Shutdown()
	p := NewProcessor(&scriptedEngine{}, st, embedding.NewService(st, nil), sessions)

	_, err = p.Process(context.Background(), event.Discard, ProcessInput{
		UserID:        "nobody",
		Transcription: "hello",
	})
	if err != ErrNoTrackerConfig {
		t.Fatalf("expected ErrNoTrackerConfig, got %v", err)
	}
}

func TestAskWithSessionKeepsConversation(t *testing.T) {
	engine := &scriptedEngine{replies: []string{"first answer", "second answer"}}
	jiraFake := &fakeJira{}
	srv := httptest.NewServer(jiraFake.handler())
	defer srv.Close()

	p, _ := newProcessorFixture(t, engine, srv.URL)
	ctx := context.Background()

	first, err := p.AskWithSession(ctx, AskInput{UserID: "alice", Question: "what is open?"}, "")
	if err != nil {
		t.Fatalf("first ask failed: %v", err)
	}
	if first.Answer != "first answer" || first.SessionID == "" {
		t.Fatalf("unexpected first reply: %+v", first)
	}

	second, err := p.AskWithSession(ctx, AskInput{UserID: "alice", Question: "and closed?"}, first.SessionID)
	if err != nil {
		t.Fatalf("second ask failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session id changed between turns: %q != %q", second.SessionID, first.SessionID)
	}
	if second.Answer != "second answer" {
		t.Fatalf("unexpected second reply: %+v", second)
	}

	// Another user cannot ride the session.
	if _, err := p.AskWithSession(ctx, AskInput{UserID: "bob", Question: "hi"}, first.SessionID); err != session.ErrNotFound {
		t.Fatalf("expected ErrNotFound for foreign session, got %v", err)
	}
}
