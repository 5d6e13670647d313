// Package agent wraps the LLM runtime behind a narrow start/submit/close
// interface so the orchestration core never touches the model API directly.
package agent

import (
	"context"
	"errors"

	"github.com/actionsync/backend/internal/model/event"
)

var ErrHandleClosed = errors.New("agent handle is closed")

// Options configures a new conversation handle.
type Options struct {
	// SystemPrompt seeds the conversation; it applies to every turn.
	SystemPrompt string
}

// Engine creates conversation handles. One Engine serves the whole process.
type Engine interface {
	Start(ctx context.Context, opts Options) (Handle, error)
}

// Handle is one open conversation with the agent runtime. It preserves
// context between turns: each Submit sees the full history of prior turns.
// The owner must Close the handle exactly once when done.
type Handle interface {
	// Submit sends a prompt and returns the stream of events for that turn.
	// The stream ends with a result event on success or an error event on
	// runtime failure; cancelling ctx ends it early.
	Submit(ctx context.Context, prompt string) (*event.Stream, error)
	Close() error
}
