package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/tools"
)

func TestScriptedDrivesHandler(t *testing.T) {
	script := &Scripted{
		Steps: []Step{
			{Message: "looking at the next feature"},
			{Call: &ToolCall{Name: "feature_next", Args: map[string]any{}}},
			{Call: &ToolCall{Name: "write_file", Args: map[string]any{"path": "app.js"}}},
			{Message: "done"},
		},
		UsagePerStep: Usage{InputTokens: 100, OutputTokens: 20},
	}

	var calls []string
	var messages []string
	var usage Usage
	err := script.Run(context.Background(), Request{
		Handle: func(_ context.Context, call ToolCall) ToolResult {
			calls = append(calls, call.Name)
			return ToolResult{Content: "ok"}
		},
		OnMessage: func(text string) { messages = append(messages, text) },
		OnUsage: func(u Usage) {
			usage.InputTokens += u.InputTokens
			usage.OutputTokens += u.OutputTokens
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"feature_next", "write_file"}, calls)
	assert.Equal(t, []string{"looking at the next feature", "done"}, messages)
	assert.Equal(t, int64(400), usage.InputTokens)
	assert.Equal(t, int64(80), usage.OutputTokens)
	assert.Len(t, script.Results, 2)
}

func TestScriptedStopOnToolError(t *testing.T) {
	script := &Scripted{
		Steps: []Step{
			{Call: &ToolCall{Name: "run_shell"}},
			{Call: &ToolCall{Name: "never_reached"}},
		},
		StopOnToolError: true,
	}

	var calls int
	err := script.Run(context.Background(), Request{
		Handle: func(_ context.Context, _ ToolCall) ToolResult {
			calls++
			return ToolResult{Content: "blocked", IsError: true}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestScriptedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	script := &Scripted{Steps: []Step{{Call: &ToolCall{Name: "read_file"}}}}
	err := script.Run(ctx, Request{
		Handle: func(_ context.Context, _ ToolCall) ToolResult {
			t.Fatal("handler must not run after cancellation")
			return ToolResult{}
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeclarationsFromCatalog(t *testing.T) {
	catalog := []tools.CatalogEntry{
		{
			Name:        "feature_mark",
			Description: "Mark a feature passing or failing",
			Schema: tools.Schema{
				Required: []string{"index", "status"},
				Properties: map[string]tools.Property{
					"index":     {Type: "integer", Description: "feature index"},
					"status":    {Type: "string", Enum: []any{"passing", "failing"}},
					"artifacts": {Type: "array", Items: &tools.Items{Type: "string"}},
					"verify":    {Type: "boolean"},
				},
			},
		},
	}

	decls := declarations(catalog)
	require.Len(t, decls, 1)
	d := decls[0]
	assert.Equal(t, "feature_mark", d.Name)
	require.NotNil(t, d.Parameters)
	assert.ElementsMatch(t, []string{"index", "status"}, d.Parameters.Required)
	assert.Equal(t, []string{"passing", "failing"}, d.Parameters.Properties["status"].Enum)
	require.NotNil(t, d.Parameters.Properties["artifacts"].Items)
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), config.LLMConfig{Model: "gemini-2.0-flash"})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
