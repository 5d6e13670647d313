package meeting

import (
	"reflect"
	"strings"
	"testing"

	"github.com/actionsync/backend/internal/jira"
)

func TestParseActionsFencedBlock(t *testing.T) {
	reply := `I found two action items.

` + "```json" + `
[
  {"action": "create_issue", "summary": "Fix login bug", "issueType": "Bug"},
  {"action": "add_comment", "issueKey": "CORE-7", "comment": "Discussed in standup"}
]
` + "```" + `
Done.`

	actions := parseActions(reply)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Action != "create_issue" || actions[0].Summary != "Fix login bug" {
		t.Fatalf("unexpected first action: %+v", actions[0])
	}
	if actions[1].IssueKey != "CORE-7" {
		t.Fatalf("unexpected second action: %+v", actions[1])
	}
}

func TestParseActionsLastBlockWins(t *testing.T) {
	reply := "```json\n[{\"action\": \"add_comment\", \"issueKey\": \"A-1\"}]\n```\n" +
		"Revised plan:\n```json\n[{\"action\": \"add_comment\", \"issueKey\": \"A-2\"}]\n```"

	actions := parseActions(reply)
	if len(actions) != 1 || actions[0].IssueKey != "A-2" {
		t.Fatalf("expected the last block, got %+v", actions)
	}
}

func TestParseActionsToleratesNoBlock(t *testing.T) {
	if got := parseActions("nothing actionable in this meeting"); got != nil {
		t.Fatalf("expected nil actions, got %+v", got)
	}
	if got := parseActions("```json\nnot valid json\n```"); got != nil {
		t.Fatalf("invalid json should yield nil, got %+v", got)
	}
}

func TestParseActionsBareArray(t *testing.T) {
	actions := parseActions(`[{"action": "transition_issue", "issueKey": "B-3", "transition": "Done"}]`)
	if len(actions) != 1 || actions[0].Transition != "Done" {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestExtractTicketKeys(t *testing.T) {
	text := "Created CORE-12 and CORE-13, also touched CORE-12 again; WEB-1 is out of scope"
	got := extractTicketKeys(text, "CORE")
	want := []string{"CORE-12", "CORE-13"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := extractTicketKeys(text, ""); got != nil {
		t.Fatalf("empty project key should yield nil, got %v", got)
	}
}

func TestSummaryTextStripsActionBlock(t *testing.T) {
	reply := "Two tickets created.\n\n```json\n[{\"action\": \"create_issue\"}]\n```"
	got := summaryText(reply)
	if got != "Two tickets created." {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func TestFormatIssues(t *testing.T) {
	if got := formatIssues(nil); got != "No tickets found." {
		t.Fatalf("unexpected empty rendering: %q", got)
	}
	got := formatIssues([]jira.Issue{
		{Key: "CORE-1", Summary: "Fix login", Status: "To Do", IssueType: "Bug", Assignee: "Sam"},
	})
	if !strings.Contains(got, "CORE-1") || !strings.Contains(got, "assignee: Sam") {
		t.Fatalf("unexpected rendering: %q", got)
	}
}
