package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/actionsync/backend/internal/config"
	"github.com/actionsync/backend/internal/jira"
	"github.com/actionsync/backend/internal/model/event"
	"github.com/actionsync/backend/internal/service/agent"
	"github.com/actionsync/backend/internal/service/processing"
	"github.com/actionsync/backend/internal/store"
)

var (
	ErrNoTrackerConfig = errors.New("jira and gitlab must be configured to start work")
	ErrBadIssueKey     = errors.New("issue key must look like KEY-123")
)

const workSystemPrompt = `You are a senior developer working on a Jira ticket.

You are given the ticket, its recent comments, and the cloned repositories.
Produce a concrete implementation plan:
- the branch name to create (derived from the ticket key and summary)
- the files to change and what to change in each
- the commit message, referencing the ticket key
- the exact push command, using merge request push options:
  git push -o merge_request.create -o merge_request.target=main origin <branch-name>

If the ticket is unclear or blocked, say exactly what is blocking instead of
guessing. End with a short summary suitable as a Jira comment.`

// Processor runs work jobs. One Processor serves the whole server.
type Processor struct {
	engine agent.Engine
	store  *store.Store
	cfg    config.WorkConfig
}

// NewProcessor wires the work processor.
func NewProcessor(engine agent.Engine, st *store.Store, cfg config.WorkConfig) *Processor {
	return &Processor{engine: engine, store: st, cfg: cfg}
}

// Input identifies the ticket to work on.
type Input struct {
	UserID   string
	IssueKey string
}

// Process runs the work job for one ticket: transition to In Progress, plan
// the implementation with the agent against the cloned repos, post the plan
// as a Jira comment, and transition to Code Review. Meant to run under the
// processing runner.
func (p *Processor) Process(ctx context.Context, sink event.Sink, in Input) (processing.Outcome, error) {
	number := keyNumber(in.IssueKey)
	projectKey, ok := strings.CutSuffix(in.IssueKey, "-"+number)
	if number == "" || !ok || projectKey == "" {
		return processing.Outcome{}, ErrBadIssueKey
	}

	cfg, err := p.store.GetTrackerConfig(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return processing.Outcome{}, ErrNoTrackerConfig
		}
		return processing.Outcome{}, err
	}
	if cfg.JiraBaseURL == "" || !cfg.HasGitLab() {
		return processing.Outcome{}, ErrNoTrackerConfig
	}

	proj, err := p.store.GetProject(ctx, in.UserID, projectKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return processing.Outcome{}, err
	}

	jc := jira.NewClient(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken)

	input, _ := json.Marshal(map[string]string{"issueKey": in.IssueKey})
	sink(event.ToolUse("jira_get_issue", input))
	ticket, err := jc.GetIssueFull(ctx, in.IssueKey)
	if err != nil {
		return processing.Outcome{}, fmt.Errorf("failed to fetch ticket: %w", err)
	}
	sink(event.ToolResult(fmt.Sprintf("%s [%s] %s", ticket.Key, ticket.Status, ticket.Summary)))

	workPath, err := CloneRepos(ctx, p.cfg.Dir, cfg.GitLabURL, cfg.GitLabToken,
		proj.GitLabProjectPaths(), in.IssueKey, p.cfg.CloneTimeout, sink)
	if err != nil {
		return processing.Outcome{}, err
	}
	defer func() {
		if err := os.RemoveAll(workPath); err != nil {
			log.Printf("[work] failed to clean %s: %v", workPath, err)
		}
	}()

	p.transition(ctx, jc, in.IssueKey, "In Progress", sink)

	handle, err := p.engine.Start(ctx, agent.Options{SystemPrompt: workSystemPrompt})
	if err != nil {
		return processing.Outcome{}, fmt.Errorf("failed to start agent: %w", err)
	}
	defer handle.Close()

	plan, err := p.runTurn(ctx, handle, workPrompt(ticket, clonedRepos(workPath), proj.CustomInstructions), sink)
	if err != nil {
		return processing.Outcome{}, err
	}

	sink(event.ToolUse("jira_add_comment", nil))
	if err := jc.AddComment(ctx, in.IssueKey, plan); err != nil {
		sink(event.ToolResult("failed to post plan: " + err.Error()))
	} else {
		sink(event.ToolResult("Posted implementation plan to " + in.IssueKey))
	}

	p.transition(ctx, jc, in.IssueKey, "Code Review", sink)

	return processing.Outcome{Success: true, Summary: plan}, nil
}

// transition is best effort: a project without the named status should not
// fail the whole job.
func (p *Processor) transition(ctx context.Context, jc *jira.Client, issueKey, status string, sink event.Sink) {
	input, _ := json.Marshal(map[string]string{"issueKey": issueKey, "transition": status})
	sink(event.ToolUse("jira_transition_issue", input))
	if err := jc.TransitionIssue(ctx, issueKey, status); err != nil {
		log.Printf("[work] transition of %s to %s failed: %v", issueKey, status, err)
		sink(event.ToolResult(fmt.Sprintf("transition to %s failed: %v", status, err)))
		return
	}
	sink(event.ToolResult(fmt.Sprintf("Transitioned %s to %s", issueKey, status)))
}

func (p *Processor) runTurn(ctx context.Context, handle agent.Handle, prompt string, sink event.Sink) (string, error) {
	stream, err := handle.Submit(ctx, prompt)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	var final string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-stream.C():
			if !ok {
				if final == "" {
					final = text.String()
				}
				return final, nil
			}
			switch ev.Type {
			case event.TypeText:
				text.WriteString(ev.Content)
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

func workPrompt(ticket jira.FullIssue, repos []string, customInstructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Ticket: %s\n**Summary:** %s\n**Status:** %s\n**Type:** %s\n",
		ticket.Key, ticket.Summary, ticket.Status, ticket.IssueType)
	if ticket.Priority != "" {
		fmt.Fprintf(&b, "**Priority:** %s\n", ticket.Priority)
	}
	description := ticket.Description
	if description == "" {
		description = "No description provided."
	}
	fmt.Fprintf(&b, "\n**Description:**\n%s\n\n## Comments:\n%s\n", description, formatComments(ticket.Comments))

	if len(repos) > 0 {
		b.WriteString("\n## Cloned Repositories:\n")
		for _, repo := range repos {
			fmt.Fprintf(&b, "- ./%s/\n", repo)
		}
	}
	if customInstructions != "" {
		fmt.Fprintf(&b, "\n## Custom Instructions:\n%s\n", customInstructions)
	}
	b.WriteString("\nProduce the implementation plan now.")
	return b.String()
}

// formatComments renders the last five comments for the prompt.
func formatComments(comments []jira.Comment) string {
	if len(comments) == 0 {
		return "No comments."
	}
	if len(comments) > 5 {
		comments = comments[len(comments)-5:]
	}
	var b strings.Builder
	for _, c := range comments {
		created := c.Created
		if len(created) > 10 {
			created = created[:10]
		}
		fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", c.Author, created, c.Body)
	}
	return strings.TrimSpace(b.String())
}

// keyNumber returns the numeric suffix of an issue key, or "" when malformed.
func keyNumber(issueKey string) string {
	i := strings.LastIndex(issueKey, "-")
	if i <= 0 || i == len(issueKey)-1 {
		return ""
	}
	suffix := issueKey[i+1:]
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return suffix
}
