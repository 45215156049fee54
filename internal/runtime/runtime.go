// Package runtime defines the contract between the supervisor and the LLM
// runtime that drives a session. The runtime is an opaque callable: it
// consumes a prompt plus a tool catalog and emits a stream of tool calls and
// text messages. Tool calls come back through a Handler the supervisor backs
// with the hook pipeline, so the runtime never touches the store directly.
package runtime

import (
	"context"
	"errors"

	"arcadiaforge/internal/tools"
)

var (
	// ErrTurnLimit means the model kept calling tools past the adapter's
	// turn ceiling. The session settles normally; the next session resumes.
	ErrTurnLimit = errors.New("runtime turn limit reached")

	// ErrNoAPIKey means the adapter was built without credentials.
	ErrNoAPIKey = errors.New("llm api key is not configured")
)

// ToolCall is one invocation the model asked for.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is what the model sees back for a call. Policy denials and
// handler failures both arrive as IsError with the reason in Content.
type ToolResult struct {
	Content string
	IsError bool
}

// Usage reports token counts for one model turn. Budget accounting depends
// on the runtime exposing these on every message.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Handler executes one tool call. It must not panic; everything that can go
// wrong is expressed through ToolResult.IsError.
type Handler func(ctx context.Context, call ToolCall) ToolResult

// Request is everything a runtime needs to drive one session.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Catalog      []tools.CatalogEntry

	// Handle executes tool calls. Required.
	Handle Handler

	// OnMessage receives each text message the model emits. Optional.
	OnMessage func(text string)

	// OnUsage receives token counts per turn. Optional.
	OnUsage func(u Usage)
}

// Runtime drives one session to completion. Run returns when the model
// stops calling tools, the context is cancelled, or the runtime fails.
type Runtime interface {
	Run(ctx context.Context, req Request) error
}
