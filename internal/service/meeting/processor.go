// Package meeting orchestrates the transcription-to-tickets pipeline: it
// gathers project context, runs an agent turn, executes the resulting ticket
// actions against Jira, and persists the meeting record.
package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/actionsync/backend/internal/gitlab"
	"github.com/actionsync/backend/internal/jira"
	"github.com/actionsync/backend/internal/model/event"
	meetingmodel "github.com/actionsync/backend/internal/model/meeting"
	"github.com/actionsync/backend/internal/model/project"
	"github.com/actionsync/backend/internal/service/agent"
	"github.com/actionsync/backend/internal/service/embedding"
	"github.com/actionsync/backend/internal/service/processing"
	"github.com/actionsync/backend/internal/service/session"
	"github.com/actionsync/backend/internal/store"
)

var (
	ErrNoTrackerConfig = errors.New("jira is not configured for this user")
	ErrNoProject       = errors.New("no project configured for this user")
)

// Processor runs meeting and question jobs. One Processor serves the whole
// server.
type Processor struct {
	engine   agent.Engine
	store    *store.Store
	index    *embedding.Service
	sessions *session.Manager
}

// NewProcessor wires the processor; index may be a disabled service.
func NewProcessor(engine agent.Engine, st *store.Store, index *embedding.Service, sessions *session.Manager) *Processor {
	return &Processor{engine: engine, store: st, index: index, sessions: sessions}
}

// ProcessInput is one transcription to turn into tickets. ProjectKey falls
// back to the user's default project when empty.
type ProcessInput struct {
	UserID        string
	ProjectKey    string
	Title         string
	Transcription string
}

// projectSetup resolves the user's tracker credentials and target project.
func (p *Processor) projectSetup(ctx context.Context, userID, projectKey string) (project.TrackerConfig, project.Project, error) {
	cfg, err := p.store.GetTrackerConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return project.TrackerConfig{}, project.Project{}, ErrNoTrackerConfig
		}
		return project.TrackerConfig{}, project.Project{}, err
	}
	if cfg.JiraBaseURL == "" || cfg.JiraAPIToken == "" {
		return project.TrackerConfig{}, project.Project{}, ErrNoTrackerConfig
	}

	var proj project.Project
	if projectKey != "" {
		proj, err = p.store.GetProject(ctx, userID, projectKey)
		if errors.Is(err, store.ErrNotFound) {
			// An unregistered key is still usable as a bare Jira project.
			return cfg, project.Project{UserID: userID, ProjectKey: projectKey}, nil
		}
	} else {
		proj, err = p.store.GetDefaultProject(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return project.TrackerConfig{}, project.Project{}, ErrNoProject
		}
	}
	if err != nil {
		return project.TrackerConfig{}, project.Project{}, err
	}
	return cfg, proj, nil
}

// gatherContext collects Jira, past-meeting, and repository context for the
// prompt, emitting tool events so clients can watch the preparation phase.
// Context failures degrade to an empty section; the agent can work without.
func (p *Processor) gatherContext(ctx context.Context, cfg project.TrackerConfig, proj project.Project, query string, sink event.Sink) (jiraContext, gitlabContext, meetingContext string) {
	jc := jira.NewClient(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken)
	jql := fmt.Sprintf("project = %s ORDER BY updated DESC", proj.ProjectKey)

	input, _ := json.Marshal(map[string]string{"jql": jql})
	sink(event.ToolUse("jira_search", input))
	issues, err := jc.SearchIssues(ctx, jql, 25)
	if err != nil {
		log.Printf("[meeting] jira context fetch failed: %v", err)
		sink(event.ToolResult("Jira search failed: " + err.Error()))
	} else {
		jiraContext = formatIssues(issues)
		sink(event.ToolResult(fmt.Sprintf("Found %d tickets in %s", len(issues), proj.ProjectKey)))
	}

	if p.index != nil {
		results, err := p.index.Search(ctx, proj.UserID, proj.ProjectKey, query, 5)
		if err != nil {
			log.Printf("[meeting] past-meeting search failed: %v", err)
		} else if len(results) > 0 {
			meetingContext = formatSearchResults(results)
			sink(event.ToolResult(fmt.Sprintf("Found %d related past meeting excerpts", len(results))))
		}
	}

	if cfg.HasGitLab() && proj.GitLabProjects != "" {
		sink(event.Text("Fetching repository context...\n"))
		gc := gitlab.NewClient(cfg.GitLabURL, cfg.GitLabToken)
		gitlabContext = gitlab.ProjectContext(ctx, gc, proj.GitLabProjectPaths())
	}
	return jiraContext, gitlabContext, meetingContext
}

// Process runs the full pipeline for one transcription. It is meant to run
// under the processing runner: the returned outcome becomes the terminal
// event and errors surface as error events.
func (p *Processor) Process(ctx context.Context, sink event.Sink, in ProcessInput) (processing.Outcome, error) {
	cfg, proj, err := p.projectSetup(ctx, in.UserID, in.ProjectKey)
	if err != nil {
		return processing.Outcome{}, err
	}

	contextQuery := in.Transcription
	if len(contextQuery) > 500 {
		contextQuery = contextQuery[:500]
	}
	jiraContext, gitlabContext, meetingContext := p.gatherContext(ctx, cfg, proj, contextQuery, sink)

	handle, err := p.engine.Start(ctx, agent.Options{SystemPrompt: processSystemPrompt})
	if err != nil {
		return processing.Outcome{}, fmt.Errorf("failed to start agent: %w", err)
	}
	defer handle.Close()

	prompt := processPrompt(in.Transcription, proj.ProjectKey, jiraContext, gitlabContext, meetingContext, proj.CustomInstructions)
	reply, err := p.runTurn(ctx, handle, prompt, sink)
	if err != nil {
		return processing.Outcome{}, err
	}

	jc := jira.NewClient(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken)
	actions := parseActions(reply)
	created := executeActions(ctx, jc, proj.ProjectKey, actions, sink)

	tickets := extractTicketKeys(reply+" "+strings.Join(created, " "), proj.ProjectKey)
	summary := summaryText(reply)

	record := meetingmodel.Meeting{
		UserID:         in.UserID,
		ProjectKey:     proj.ProjectKey,
		Title:          in.Title,
		Transcription:  in.Transcription,
		Summary:        summary,
		TicketsCreated: tickets,
	}
	if record.Title == "" {
		record.Title = "Meeting - " + proj.ProjectKey
	}
	meetingID, err := p.store.SaveMeeting(ctx, record)
	if err != nil {
		log.Printf("[meeting] failed to persist meeting: %v", err)
	} else if p.index != nil && proj.EmbeddingsEnabled && p.index.Enabled() {
		p.index.IndexMeeting(ctx, meetingID, in.Transcription)
	}

	return processing.Outcome{Success: true, Summary: summary}, nil
}

// AskInput is a one-shot question about a project.
type AskInput struct {
	UserID     string
	ProjectKey string
	Question   string
}

// Ask answers a question in a fresh conversation, streaming progress to the
// sink. Meant to run under the processing runner like Process.
func (p *Processor) Ask(ctx context.Context, sink event.Sink, in AskInput) (processing.Outcome, error) {
	cfg, proj, err := p.projectSetup(ctx, in.UserID, in.ProjectKey)
	if err != nil {
		return processing.Outcome{}, err
	}

	jiraContext, gitlabContext, meetingContext := p.gatherContext(ctx, cfg, proj, in.Question, sink)

	handle, err := p.engine.Start(ctx, agent.Options{SystemPrompt: askSystemPrompt})
	if err != nil {
		return processing.Outcome{}, fmt.Errorf("failed to start agent: %w", err)
	}
	defer handle.Close()

	answer, err := p.runTurn(ctx, handle, askPrompt(in.Question, proj.ProjectKey, jiraContext, gitlabContext, meetingContext), sink)
	if err != nil {
		return processing.Outcome{}, err
	}
	return processing.Outcome{Success: true, Summary: answer}, nil
}

// SessionAnswer is the synchronous reply of a session-scoped ask.
type SessionAnswer struct {
	Answer    string `json:"answer"`
	SessionID string `json:"sessionId"`
}

// AskWithSession answers a question inside a persistent conversation. An
// empty sessionID starts a new conversation; a stale one fails with
// session.ErrNotFound. The session is shielded from the idle reaper for the
// duration of the turn.
func (p *Processor) AskWithSession(ctx context.Context, in AskInput, sessionID string) (SessionAnswer, error) {
	var s *session.Session
	if sessionID == "" {
		cfg, proj, err := p.projectSetup(ctx, in.UserID, in.ProjectKey)
		if err != nil {
			return SessionAnswer{}, err
		}
		jiraContext, gitlabContext, meetingContext := p.gatherContext(ctx, cfg, proj, in.Question, event.Discard)

		s, err = p.sessions.Create(ctx, in.UserID, func(ctx context.Context) (agent.Handle, error) {
			return p.engine.Start(ctx, agent.Options{SystemPrompt: askSystemPrompt})
		})
		if err != nil {
			return SessionAnswer{}, fmt.Errorf("failed to start session: %w", err)
		}

		// The opening turn carries the project context; follow-ups ride on
		// the conversation history.
		prompt := askPrompt(in.Question, proj.ProjectKey, jiraContext, gitlabContext, meetingContext)
		return p.sessionTurn(ctx, s, prompt)
	}

	s, ok := p.sessions.Get(sessionID)
	if !ok {
		return SessionAnswer{}, session.ErrNotFound
	}
	if s.UserID != in.UserID {
		return SessionAnswer{}, session.ErrNotFound
	}
	return p.sessionTurn(ctx, s, in.Question)
}

func (p *Processor) sessionTurn(ctx context.Context, s *session.Session, prompt string) (SessionAnswer, error) {
	p.sessions.SetProcessing(s.ID, true)
	defer p.sessions.SetProcessing(s.ID, false)

	answer, err := p.runTurn(ctx, s.Handle, prompt, event.Discard)
	if err != nil {
		return SessionAnswer{}, err
	}
	return SessionAnswer{Answer: answer, SessionID: s.ID}, nil
}

// runTurn submits one prompt, forwards the turn's events to the sink, and
// returns the final result text. An in-stream error event becomes an error
// return; cancellation surfaces as ctx.Err.
func (p *Processor) runTurn(ctx context.Context, handle agent.Handle, prompt string, sink event.Sink) (string, error) {
	stream, err := handle.Submit(ctx, prompt)
	if err != nil {
		return "", err
	}

	var result strings.Builder
	var final string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-stream.C():
			if !ok {
				if final == "" {
					final = result.String()
				}
				return final, nil
			}
			switch ev.Type {
			case event.TypeText:
				result.WriteString(ev.Content)
				sink(ev)
			case event.TypeResult:
				final = ev.Content
				sink(ev)
			case event.TypeError:
				return "", errors.New(ev.Error)
			default:
				sink(ev)
			}
		}
	}
}

// summaryText strips the trailing action block from the agent's reply so the
// stored summary reads as prose.
func summaryText(reply string) string {
	cleaned := fencedJSON.ReplaceAllString(reply, "")
	return strings.TrimSpace(cleaned)
}
