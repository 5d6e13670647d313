package meeting

import (
	"fmt"
	"strings"

	"github.com/actionsync/backend/internal/jira"
	"github.com/actionsync/backend/internal/model/meeting"
)

const processSystemPrompt = `You are an assistant that turns meeting transcriptions into Jira tickets.

Analyze the transcription for action items, decisions, bugs, and references to
existing tickets. Use the provided Jira project context to avoid creating
duplicates: update existing tickets when the discussion clearly concerns them,
create new ones for new action items.

After your analysis, end your reply with a fenced json block listing the
ticket actions to perform, in this exact shape:

` + "```json" + `
[
  {"action": "create_issue", "summary": "...", "description": "...", "issueType": "Task", "labels": ["meeting-notes"], "priority": ""},
  {"action": "update_issue", "issueKey": "KEY-123", "summary": "", "description": "..."},
  {"action": "add_comment", "issueKey": "KEY-123", "comment": "..."},
  {"action": "transition_issue", "issueKey": "KEY-123", "transition": "In Progress"}
]
` + "```" + `

Rules:
- Every created ticket carries the label "meeting-notes".
- Use clear, actionable summaries and include meeting context in descriptions.
- Reference code files from the repository context when technical work is discussed.
- Emit an empty json array when the meeting produced no ticket work.
- Before the json block, write a short summary of what you decided and why.`

const askSystemPrompt = `You are a helpful assistant that answers questions about a Jira project.

Use the provided project context: current tickets, past meeting notes, and
repository information. Combine sources when relevant, be concise but
thorough, and include issue keys (like KEY-123) when referencing tickets.
Answer in plain prose or short bullet lists.`

func processPrompt(transcription, projectKey, jiraContext, gitlabContext, meetingContext, customInstructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Meeting Transcription:\n%s\n\n## Target Project: %s\n", transcription, projectKey)
	if jiraContext != "" {
		fmt.Fprintf(&b, "\n## Current Tickets in %s:\n%s\n", projectKey, jiraContext)
	}
	if meetingContext != "" {
		fmt.Fprintf(&b, "\n## Related Past Meetings:\n%s\n", meetingContext)
	}
	if gitlabContext != "" {
		fmt.Fprintf(&b, "\n## Code Repository Context:\n%s\n", gitlabContext)
	}
	if customInstructions != "" {
		fmt.Fprintf(&b, "\n## Custom Instructions:\n%s\n", customInstructions)
	}
	b.WriteString("\nAnalyze the transcription and produce the ticket actions now.")
	return b.String()
}

func askPrompt(question, projectKey, jiraContext, gitlabContext, meetingContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Project: %s\n\n## Question:\n%s\n", projectKey, question)
	if jiraContext != "" {
		fmt.Fprintf(&b, "\n## Current Tickets:\n%s\n", jiraContext)
	}
	if meetingContext != "" {
		fmt.Fprintf(&b, "\n## Past Meeting Notes:\n%s\n", meetingContext)
	}
	if gitlabContext != "" {
		fmt.Fprintf(&b, "\n## Repository Context:\n%s\n", gitlabContext)
	}
	b.WriteString("\nAnswer the question now.")
	return b.String()
}

// formatIssues renders a ticket list for prompt context, one line per issue.
func formatIssues(issues []jira.Issue) string {
	if len(issues) == 0 {
		return "No tickets found."
	}
	lines := make([]string, 0, len(issues))
	for _, issue := range issues {
		line := fmt.Sprintf("- %s [%s] %s (%s)", issue.Key, issue.Status, issue.Summary, issue.IssueType)
		if issue.Assignee != "" {
			line += " assignee: " + issue.Assignee
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// formatSearchResults renders past-meeting chunks for prompt context.
func formatSearchResults(results []meeting.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range results {
		title := r.Title
		if title == "" {
			title = fmt.Sprintf("Meeting %d", r.MeetingID)
		}
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", title, r.CreatedAt.Format("2006-01-02"), r.Content)
	}
	return strings.TrimSpace(b.String())
}
