package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/actionsync/backend/internal/jira"
	"github.com/actionsync/backend/internal/model/event"
)

// Action is one ticket operation the agent asked for.
type Action struct {
	Action      string   `json:"action"`
	IssueKey    string   `json:"issueKey,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	IssueType   string   `json:"issueType,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Comment     string   `json:"comment,omitempty"`
	Transition  string   `json:"transition,omitempty"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")

// parseActions extracts the agent's action list from its reply. The last
// fenced json array wins; a reply without one means no ticket work.
func parseActions(reply string) []Action {
	matches := fencedJSON.FindAllStringSubmatch(reply, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		var actions []Action
		if err := json.Unmarshal([]byte(matches[i][1]), &actions); err == nil {
			return actions
		}
	}
	// Tolerate a bare array without fences.
	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "[") {
		var actions []Action
		if err := json.Unmarshal([]byte(trimmed), &actions); err == nil {
			return actions
		}
	}
	return nil
}

// executeActions runs the agent's ticket actions against Jira, emitting a
// tool_use/tool_result pair per action. Failures are reported in-stream and
// do not stop the remaining actions. Returns the keys of created issues.
func executeActions(ctx context.Context, jc *jira.Client, projectKey string, actions []Action, sink event.Sink) []string {
	var created []string
	for _, action := range actions {
		input, _ := json.Marshal(action)
		sink(event.ToolUse("jira_"+action.Action, input))

		var result string
		var err error
		switch action.Action {
		case "create_issue":
			labels := action.Labels
			if !containsLabel(labels, "meeting-notes") {
				labels = append(labels, "meeting-notes")
			}
			var key string
			key, err = jc.CreateIssue(ctx, jira.CreateIssueInput{
				ProjectKey:  projectKey,
				Summary:     action.Summary,
				IssueType:   action.IssueType,
				Description: action.Description,
				Labels:      labels,
				Priority:    action.Priority,
			})
			if err == nil {
				created = append(created, key)
				result = "Created " + key
			}
		case "update_issue":
			in := jira.UpdateIssueInput{}
			if action.Summary != "" {
				in.Summary = &action.Summary
			}
			if action.Description != "" {
				in.Description = &action.Description
			}
			if action.Priority != "" {
				in.Priority = &action.Priority
			}
			if len(action.Labels) > 0 {
				in.Labels = action.Labels
			}
			err = jc.UpdateIssue(ctx, action.IssueKey, in)
			result = "Updated " + action.IssueKey
		case "add_comment":
			err = jc.AddComment(ctx, action.IssueKey, action.Comment)
			result = "Commented on " + action.IssueKey
		case "transition_issue":
			err = jc.TransitionIssue(ctx, action.IssueKey, action.Transition)
			result = fmt.Sprintf("Transitioned %s to %s", action.IssueKey, action.Transition)
		default:
			err = fmt.Errorf("unknown action %q", action.Action)
		}

		if err != nil {
			sink(event.ToolResult(fmt.Sprintf("%s failed: %v", action.Action, err)))
			continue
		}
		sink(event.ToolResult(result))
	}
	return created
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// extractTicketKeys pulls every PROJECT-123 style key for the given project
// out of the text, deduplicated and sorted.
func extractTicketKeys(text, projectKey string) []string {
	if projectKey == "" {
		return nil
	}
	re := regexp.MustCompile(regexp.QuoteMeta(projectKey) + `-\d+`)
	seen := make(map[string]bool)
	var keys []string
	for _, key := range re.FindAllString(text, -1) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
