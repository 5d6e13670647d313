package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/actionsync/backend/internal/model/meeting"
	"github.com/actionsync/backend/internal/model/project"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTrackerConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetTrackerConfig(ctx, "alice"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cfg := project.TrackerConfig{
		UserID:       "alice",
		JiraBaseURL:  "https://example.atlassian.net",
		JiraEmail:    "alice@example.com",
		JiraAPIToken: "secret",
		GitLabURL:    "https://gitlab.example.com",
		GitLabToken:  "glpat",
	}
	if err := s.SaveTrackerConfig(ctx, cfg); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	got, err := s.GetTrackerConfig(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to get config: %v", err)
	}
	if got.JiraBaseURL != cfg.JiraBaseURL || got.JiraAPIToken != cfg.JiraAPIToken {
		t.Fatalf("config mismatch: %+v", got)
	}
	if !got.HasGitLab() {
		t.Fatal("expected HasGitLab to be true")
	}

	// Saving again replaces rather than duplicates.
	cfg.JiraAPIToken = "rotated"
	if err := s.SaveTrackerConfig(ctx, cfg); err != nil {
		t.Fatalf("failed to re-save config: %v", err)
	}
	got, err = s.GetTrackerConfig(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to re-get config: %v", err)
	}
	if got.JiraAPIToken != "rotated" {
		t.Fatalf("expected rotated token, got %q", got.JiraAPIToken)
	}

	if err := s.DeleteTrackerConfig(ctx, "alice"); err != nil {
		t.Fatalf("failed to delete config: %v", err)
	}
	if err := s.DeleteTrackerConfig(ctx, "alice"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestSaveProjectUpsertAndDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.SaveProject(ctx, project.Project{
		UserID: "bob", ProjectKey: "CORE", ProjectName: "Core", IsDefault: true,
	})
	if err != nil {
		t.Fatalf("failed to save project: %v", err)
	}
	id2, err := s.SaveProject(ctx, project.Project{
		UserID: "bob", ProjectKey: "WEB", ProjectName: "Web", IsDefault: true,
	})
	if err != nil {
		t.Fatalf("failed to save second project: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("distinct projects must get distinct ids, both %d", id1)
	}

	// Marking WEB default cleared CORE's flag.
	core, err := s.GetProject(ctx, "bob", "CORE")
	if err != nil {
		t.Fatalf("failed to get CORE: %v", err)
	}
	if core.IsDefault {
		t.Fatal("CORE should no longer be default")
	}
	def, err := s.GetDefaultProject(ctx, "bob")
	if err != nil {
		t.Fatalf("failed to get default project: %v", err)
	}
	if def.ProjectKey != "WEB" {
		t.Fatalf("expected WEB as default, got %s", def.ProjectKey)
	}

	// Upsert on the same key keeps the id.
	id3, err := s.SaveProject(ctx, project.Project{
		UserID: "bob", ProjectKey: "CORE", ProjectName: "Core Platform",
		GitLabProjects: "group/core, group/core-lib",
	})
	if err != nil {
		t.Fatalf("failed to upsert CORE: %v", err)
	}
	if id3 != id1 {
		t.Fatalf("upsert changed project id: %d != %d", id3, id1)
	}
	core, _ = s.GetProject(ctx, "bob", "CORE")
	if core.ProjectName != "Core Platform" {
		t.Fatalf("expected updated name, got %q", core.ProjectName)
	}
	if paths := core.GitLabProjectPaths(); len(paths) != 2 || paths[1] != "group/core-lib" {
		t.Fatalf("unexpected gitlab paths: %v", paths)
	}

	projects, err := s.ListProjects(ctx, "bob")
	if err != nil {
		t.Fatalf("failed to list projects: %v", err)
	}
	if len(projects) != 2 || !projects[0].IsDefault {
		t.Fatalf("expected 2 projects with default first, got %+v", projects)
	}

	if err := s.DeleteProject(ctx, "bob", "CORE"); err != nil {
		t.Fatalf("failed to delete project: %v", err)
	}
	if _, err := s.GetProject(ctx, "bob", "CORE"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMeetingRoundTripAndScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveMeeting(ctx, meeting.Meeting{
		UserID:         "carol",
		ProjectKey:     "CORE",
		Title:          "Sprint planning",
		Transcription:  "we agreed to fix the login bug",
		Summary:        "Fix login bug this sprint.",
		TicketsCreated: []string{"CORE-12", "CORE-13"},
	})
	if err != nil {
		t.Fatalf("failed to save meeting: %v", err)
	}

	got, err := s.GetMeeting(ctx, "carol", id)
	if err != nil {
		t.Fatalf("failed to get meeting: %v", err)
	}
	if len(got.TicketsCreated) != 2 || got.TicketsCreated[0] != "CORE-12" {
		t.Fatalf("tickets not preserved: %v", got.TicketsCreated)
	}

	// Another user must not see it.
	if _, err := s.GetMeeting(ctx, "mallory", id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}

	meetings, err := s.ListMeetings(ctx, "carol", 0)
	if err != nil {
		t.Fatalf("failed to list meetings: %v", err)
	}
	if len(meetings) != 1 {
		t.Fatalf("expected 1 meeting, got %d", len(meetings))
	}

	if err := s.DeleteMeeting(ctx, "mallory", id); err != ErrNotFound {
		t.Fatalf("other user's delete must fail, got %v", err)
	}
	if err := s.DeleteMeeting(ctx, "carol", id); err != nil {
		t.Fatalf("failed to delete meeting: %v", err)
	}
}

func TestChunksCascadeWithMeeting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveMeeting(ctx, meeting.Meeting{
		UserID:        "dave",
		Transcription: "long transcript",
	})
	if err != nil {
		t.Fatalf("failed to save meeting: %v", err)
	}
	chunks := []meeting.Chunk{
		{MeetingID: id, Index: 0, Content: "part one", Embedding: []float64{0.1, 0.2}},
		{MeetingID: id, Index: 1, Content: "part two", Embedding: []float64{0.3, 0.4}},
	}
	if err := s.SaveChunks(ctx, id, chunks); err != nil {
		t.Fatalf("failed to save chunks: %v", err)
	}

	got, meetings, err := s.ChunksForUser(ctx, "dave")
	if err != nil {
		t.Fatalf("failed to load chunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Embedding[1] != 0.2 {
		t.Fatalf("embedding not preserved: %v", got[0].Embedding)
	}
	if _, ok := meetings[id]; !ok {
		t.Fatal("expected owning meeting in metadata map")
	}

	if err := s.DeleteMeeting(ctx, "dave", id); err != nil {
		t.Fatalf("failed to delete meeting: %v", err)
	}
	got, _, err = s.ChunksForUser(ctx, "dave")
	if err != nil {
		t.Fatalf("failed to reload chunks: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("chunks should cascade on meeting delete, got %d", len(got))
	}
}
