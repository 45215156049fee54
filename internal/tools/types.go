// Package tools declares the static tool catalog the LLM runtime drives:
// file operations, gated shell execution, browser automation, evidence
// capture, feature operations, and memory/progress queries. Tools execute
// only after the hook pipeline has cleared them.
package tools

import (
	"context"
	"errors"
)

var (
	ErrToolNameEmpty         = errors.New("tool name is empty")
	ErrToolExecuteNil        = errors.New("tool execute function is nil")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrToolNotFound          = errors.New("tool not found")
)

// Property describes a single parameter for the JSON schema exposed to the
// runtime.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Items       *Items `json:"items,omitempty"`
}

// Items describes array element schema.
type Items struct {
	Type string `json:"type"`
}

// Schema defines the expected arguments for a tool.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Output is what a tool produces: text for the runtime, plus the files it
// touched so working memory can track them.
type Output struct {
	Text  string
	Files []string
}

// ExecuteFunc runs a tool with validated arguments.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*Output, error)

// Tool is one named entry in the catalog.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Execute     ExecuteFunc
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// CatalogEntry is the runtime-facing declaration of a tool.
type CatalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`
}

// Helpers for reading loosely typed arguments. The runtime hands us
// JSON-decoded maps, so numbers arrive as float64.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
