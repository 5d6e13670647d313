package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/actionsync/backend/internal/config"
	"github.com/actionsync/backend/internal/model/event"
)

// EinoEngine implements Engine on top of an eino chat chain backed by the
// Ark model runtime.
type EinoEngine struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewEinoEngine compiles the prompt-template → chat-model chain once; every
// handle shares it and differs only in system prompt and history.
func NewEinoEngine(ctx context.Context, cfg config.AgentConfig) (*EinoEngine, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &EinoEngine{chain: runnable}, nil
}

// Start opens a conversation handle.
func (e *EinoEngine) Start(_ context.Context, opts Options) (Handle, error) {
	return &einoHandle{engine: e, system: opts.SystemPrompt}, nil
}

type einoHandle struct {
	engine *EinoEngine
	system string

	mu      sync.Mutex
	history []*schema.Message
	closed  bool
}

// Submit runs one turn. The returned stream carries text chunks and tool
// calls as they arrive, then a final result event; the full turn is appended
// to the handle's history so the next Submit keeps the conversation.
func (h *einoHandle) Submit(ctx context.Context, promptText string) (*event.Stream, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHandleClosed
	}
	history := append([]*schema.Message(nil), h.history...)
	h.mu.Unlock()

	input := map[string]any{
		"system":  h.system,
		"history": history,
		"query":   promptText,
	}

	reader, err := h.engine.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream agent turn: %w", err)
	}

	out := event.NewStream(16)
	go func() {
		defer out.Close()
		defer reader.Close()

		chunks := make([]*schema.Message, 0, 8)
		for {
			chunk, recvErr := reader.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				out.Send(event.Error(recvErr.Error()))
				return
			}
			if chunk == nil {
				continue
			}

			chunks = append(chunks, chunk)
			if chunk.Content != "" {
				out.Send(event.Text(chunk.Content))
			}
			for _, call := range chunk.ToolCalls {
				if call.Function.Name == "" {
					continue
				}
				out.Send(event.ToolUse(call.Function.Name, json.RawMessage(call.Function.Arguments)))
			}
		}

		final, concatErr := schema.ConcatMessages(chunks)
		if concatErr != nil {
			out.Send(event.Error(fmt.Sprintf("failed to assemble agent response: %v", concatErr)))
			return
		}

		h.mu.Lock()
		if !h.closed {
			h.history = append(h.history, schema.UserMessage(promptText), final)
		}
		h.mu.Unlock()

		out.Send(event.Result(final.Content))
	}()

	return out, nil
}

// Close releases the handle. Later Submits fail with ErrHandleClosed.
func (h *einoHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	h.closed = true
	h.history = nil
	log.Printf("[agent] handle closed, history released")
	return nil
}
