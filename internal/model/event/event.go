package event

import "encoding/json"

// Type identifies the kind of progress event a job emits.
type Type string

const (
	TypeText       Type = "text"
	TypeToolUse    Type = "tool_use"
	TypeToolResult Type = "tool_result"
	TypeResult     Type = "result"
	TypeError      Type = "error"
	TypeAborted    Type = "aborted"
	TypeComplete   Type = "complete"
)

// Event is one progress message produced by a background job or agent turn.
// Only the fields relevant to the Type are populated; ordering relative to
// other events of the same job is the delivery contract.
type Event struct {
	Type    Type            `json:"type"`
	Content string          `json:"content,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Success bool            `json:"success,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Sink receives events from a running job. Implementations must not block
// the producer; delivery failures are the sink's problem, not the job's.
type Sink func(Event)

// Discard is a Sink that drops everything.
func Discard(Event) {}

// Text builds a text-chunk event.
func Text(content string) Event {
	return Event{Type: TypeText, Content: content}
}

// ToolUse builds a tool-invocation event.
func ToolUse(tool string, input json.RawMessage) Event {
	return Event{Type: TypeToolUse, Tool: tool, Input: input}
}

// ToolResult builds a tool-result event.
func ToolResult(content string) Event {
	return Event{Type: TypeToolResult, Content: content}
}

// Result builds a final-result event carrying the agent's answer text.
func Result(content string) Event {
	return Event{Type: TypeResult, Content: content}
}

// Error builds an error event.
func Error(message string) Event {
	return Event{Type: TypeError, Error: message}
}

// Aborted marks a cooperatively cancelled job.
func Aborted() Event {
	return Event{Type: TypeAborted}
}

// Complete is the terminal event of a successful (or failed-but-finished) job.
func Complete(success bool, summary string) Event {
	return Event{Type: TypeComplete, Success: success, Summary: summary}
}
