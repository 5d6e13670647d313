// Package store persists tracker configuration, projects, and processed
// meetings in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/actionsync/backend/internal/model/meeting"
	"github.com/actionsync/backend/internal/model/project"
)

var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database. All methods are safe for concurrent use;
// database/sql serializes access to the single connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Printf("[store] sqlite opened: %s", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tracker_configs (
			user_id             TEXT PRIMARY KEY,
			jira_base_url       TEXT NOT NULL DEFAULT '',
			jira_email          TEXT NOT NULL DEFAULT '',
			jira_api_token      TEXT NOT NULL DEFAULT '',
			gitlab_url          TEXT NOT NULL DEFAULT '',
			gitlab_token        TEXT NOT NULL DEFAULT '',
			servicenow_url      TEXT NOT NULL DEFAULT '',
			servicenow_user     TEXT NOT NULL DEFAULT '',
			servicenow_password TEXT NOT NULL DEFAULT '',
			updated_at          TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS projects (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id             TEXT NOT NULL,
			project_key         TEXT NOT NULL,
			project_name        TEXT NOT NULL DEFAULT '',
			is_default          INTEGER NOT NULL DEFAULT 0,
			gitlab_projects     TEXT NOT NULL DEFAULT '',
			custom_instructions TEXT NOT NULL DEFAULT '',
			embeddings_enabled  INTEGER NOT NULL DEFAULT 0,
			kanban_jql          TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL,

			UNIQUE(user_id, project_key)
		);

		CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);

		CREATE TABLE IF NOT EXISTS meetings (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id         TEXT NOT NULL,
			project_key     TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL DEFAULT '',
			transcription   TEXT NOT NULL,
			summary         TEXT NOT NULL DEFAULT '',
			tickets_created TEXT NOT NULL DEFAULT '[]',
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_meetings_user ON meetings(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS meeting_chunks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			meeting_id INTEGER NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content    TEXT NOT NULL,
			embedding  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_meeting ON meeting_chunks(meeting_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTrackerConfig inserts or replaces the per-user tracker credentials.
func (s *Store) SaveTrackerConfig(ctx context.Context, cfg project.TrackerConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tracker_configs
			(user_id, jira_base_url, jira_email, jira_api_token,
			 gitlab_url, gitlab_token,
			 servicenow_url, servicenow_user, servicenow_password, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.UserID, cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken,
		cfg.GitLabURL, cfg.GitLabToken,
		cfg.ServiceNowURL, cfg.ServiceNowUser, cfg.ServiceNowPassword,
		cfg.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving tracker config: %w", err)
	}
	return nil
}

// GetTrackerConfig loads the tracker credentials for a user.
func (s *Store) GetTrackerConfig(ctx context.Context, userID string) (project.TrackerConfig, error) {
	var cfg project.TrackerConfig
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, jira_base_url, jira_email, jira_api_token,
		       gitlab_url, gitlab_token,
		       servicenow_url, servicenow_user, servicenow_password, updated_at
		FROM tracker_configs WHERE user_id = ?
	`, userID).Scan(&cfg.UserID, &cfg.JiraBaseURL, &cfg.JiraEmail, &cfg.JiraAPIToken,
		&cfg.GitLabURL, &cfg.GitLabToken,
		&cfg.ServiceNowURL, &cfg.ServiceNowUser, &cfg.ServiceNowPassword, &updatedAt)
	if err == sql.ErrNoRows {
		return project.TrackerConfig{}, ErrNotFound
	}
	if err != nil {
		return project.TrackerConfig{}, fmt.Errorf("querying tracker config: %w", err)
	}
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return cfg, nil
}

// DeleteTrackerConfig removes the stored credentials for a user.
func (s *Store) DeleteTrackerConfig(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tracker_configs WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting tracker config: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveProject inserts or updates a project by (user, key) and returns its ID.
// Marking a project default clears the flag on the user's other projects.
func (s *Store) SaveProject(ctx context.Context, p project.Project) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET is_default = 0 WHERE user_id = ?`, p.UserID); err != nil {
			return 0, fmt.Errorf("clearing default project: %w", err)
		}
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO projects
			(user_id, project_key, project_name, is_default, gitlab_projects,
			 custom_instructions, embeddings_enabled, kanban_jql, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, project_key) DO UPDATE SET
			project_name = excluded.project_name,
			is_default = excluded.is_default,
			gitlab_projects = excluded.gitlab_projects,
			custom_instructions = excluded.custom_instructions,
			embeddings_enabled = excluded.embeddings_enabled,
			kanban_jql = excluded.kanban_jql
	`, p.UserID, p.ProjectKey, p.ProjectName, boolToInt(p.IsDefault), p.GitLabProjects,
		p.CustomInstructions, boolToInt(p.EmbeddingsEnabled), p.KanbanJQL,
		createdAt.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("saving project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil || id == 0 {
		if scanErr := tx.QueryRowContext(ctx,
			`SELECT id FROM projects WHERE user_id = ? AND project_key = ?`,
			p.UserID, p.ProjectKey).Scan(&id); scanErr != nil {
			return 0, fmt.Errorf("resolving project id: %w", scanErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing project: %w", err)
	}
	return id, nil
}

const projectColumns = `id, user_id, project_key, project_name, is_default,
	gitlab_projects, custom_instructions, embeddings_enabled, kanban_jql, created_at`

func scanProject(scan func(...any) error) (project.Project, error) {
	var p project.Project
	var isDefault, embeddings int
	var createdAt string
	err := scan(&p.ID, &p.UserID, &p.ProjectKey, &p.ProjectName, &isDefault,
		&p.GitLabProjects, &p.CustomInstructions, &embeddings, &p.KanbanJQL, &createdAt)
	if err != nil {
		return project.Project{}, err
	}
	p.IsDefault = isDefault != 0
	p.EmbeddingsEnabled = embeddings != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return p, nil
}

// GetProject loads one project by user and key.
func (s *Store) GetProject(ctx context.Context, userID, projectKey string) (project.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? AND project_key = ?`,
		userID, projectKey)
	p, err := scanProject(row.Scan)
	if err == sql.ErrNoRows {
		return project.Project{}, ErrNotFound
	}
	if err != nil {
		return project.Project{}, fmt.Errorf("querying project: %w", err)
	}
	return p, nil
}

// GetDefaultProject loads the user's default project, falling back to the
// oldest project when none is marked default.
func (s *Store) GetDefaultProject(ctx context.Context, userID string) (project.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ?
		 ORDER BY is_default DESC, created_at ASC LIMIT 1`, userID)
	p, err := scanProject(row.Scan)
	if err == sql.ErrNoRows {
		return project.Project{}, ErrNotFound
	}
	if err != nil {
		return project.Project{}, fmt.Errorf("querying default project: %w", err)
	}
	return p, nil
}

// ListProjects returns all of a user's projects, default first.
func (s *Store) ListProjects(ctx context.Context, userID string) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ?
		 ORDER BY is_default DESC, project_key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and its meeting chunks stay untouched;
// chunks belong to meetings, not projects.
func (s *Store) DeleteProject(ctx context.Context, userID, projectKey string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE user_id = ? AND project_key = ?`, userID, projectKey)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMeeting inserts a processed meeting and returns its ID.
func (s *Store) SaveMeeting(ctx context.Context, m meeting.Meeting) (int64, error) {
	tickets, err := json.Marshal(m.TicketsCreated)
	if err != nil {
		return 0, fmt.Errorf("encoding tickets: %w", err)
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (user_id, project_key, title, transcription, summary, tickets_created, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.UserID, m.ProjectKey, m.Title, m.Transcription, m.Summary, string(tickets),
		createdAt.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("inserting meeting: %w", err)
	}
	return result.LastInsertId()
}

func scanMeeting(scan func(...any) error) (meeting.Meeting, error) {
	var m meeting.Meeting
	var tickets, createdAt string
	err := scan(&m.ID, &m.UserID, &m.ProjectKey, &m.Title, &m.Transcription,
		&m.Summary, &tickets, &createdAt)
	if err != nil {
		return meeting.Meeting{}, err
	}
	if err := json.Unmarshal([]byte(tickets), &m.TicketsCreated); err != nil {
		m.TicketsCreated = nil
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return m, nil
}

const meetingColumns = `id, user_id, project_key, title, transcription, summary, tickets_created, created_at`

// GetMeeting loads one meeting; callers own the user check, the store scopes
// the query so a user can never read another user's meeting.
func (s *Store) GetMeeting(ctx context.Context, userID string, id int64) (meeting.Meeting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = ? AND user_id = ?`, id, userID)
	m, err := scanMeeting(row.Scan)
	if err == sql.ErrNoRows {
		return meeting.Meeting{}, ErrNotFound
	}
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("querying meeting: %w", err)
	}
	return m, nil
}

// ListMeetings returns a user's meetings, newest first. The transcription
// column is included; handlers decide how much of it to expose.
func (s *Store) ListMeetings(ctx context.Context, userID string, limit int) ([]meeting.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying meetings: %w", err)
	}
	defer rows.Close()

	var meetings []meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning meeting row: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// DeleteMeeting removes a meeting and, via the foreign key, its chunks.
func (s *Store) DeleteMeeting(ctx context.Context, userID string, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM meetings WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting meeting: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveChunks stores the embedded chunks of one meeting in a single
// transaction.
func (s *Store) SaveChunks(ctx context.Context, meetingID int64, chunks []meeting.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, chunk := range chunks {
		embedding, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meeting_chunks (meeting_id, chunk_index, content, embedding)
			VALUES (?, ?, ?, ?)
		`, meetingID, chunk.Index, chunk.Content, string(embedding)); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	return tx.Commit()
}

// ChunksForUser returns every stored chunk of the user's meetings together
// with the owning meeting's metadata, for similarity search in memory.
func (s *Store) ChunksForUser(ctx context.Context, userID string) ([]meeting.Chunk, map[int64]meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.meeting_id, c.chunk_index, c.content, c.embedding,
		       m.id, m.user_id, m.project_key, m.title, m.transcription, m.summary, m.tickets_created, m.created_at
		FROM meeting_chunks c
		JOIN meetings m ON m.id = c.meeting_id
		WHERE m.user_id = ?
	`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []meeting.Chunk
	meetings := make(map[int64]meeting.Meeting)
	for rows.Next() {
		var chunk meeting.Chunk
		var embedding string
		var m meeting.Meeting
		var tickets, createdAt string
		if err := rows.Scan(&chunk.ID, &chunk.MeetingID, &chunk.Index, &chunk.Content, &embedding,
			&m.ID, &m.UserID, &m.ProjectKey, &m.Title, &m.Transcription, &m.Summary, &tickets, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &chunk.Embedding); err != nil {
			return nil, nil, fmt.Errorf("decoding embedding: %w", err)
		}
		json.Unmarshal([]byte(tickets), &m.TicketsCreated)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		chunks = append(chunks, chunk)
		meetings[m.ID] = m
	}
	return chunks, meetings, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
