package runtime

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/tools"
)

// defaultMaxTurns bounds one session's model round-trips. Sessions are
// deliberately bounded; unfinished work carries over via Warm memory.
const defaultMaxTurns = 120

// Gemini drives a session through the Gemini API with function calling.
type Gemini struct {
	client   *genai.Client
	model    string
	maxTurns int
}

// NewGemini builds the adapter from LLM config.
func NewGemini(ctx context.Context, cfg config.LLMConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{client: client, model: model, maxTurns: defaultMaxTurns}, nil
}

// Run implements Runtime. Each turn sends the accumulated conversation,
// executes any function calls through req.Handle, and feeds the results
// back until the model answers with text only.
func (g *Gemini) Run(ctx context.Context, req Request) error {
	genCfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{FunctionDeclarations: declarations(req.Catalog)}},
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	for turn := 0; turn < g.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
		if err != nil {
			return fmt.Errorf("generate content: %w", err)
		}
		if u := resp.UsageMetadata; u != nil && req.OnUsage != nil {
			req.OnUsage(Usage{
				InputTokens:  int64(u.PromptTokenCount),
				OutputTokens: int64(u.CandidatesTokenCount),
			})
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			logging.Runtime("model returned no candidates on turn %d", turn)
			return nil
		}

		content := resp.Candidates[0].Content
		contents = append(contents, content)

		var calls []*genai.FunctionCall
		for _, part := range content.Parts {
			if part.Text != "" && req.OnMessage != nil {
				req.OnMessage(part.Text)
			}
			if part.FunctionCall != nil {
				calls = append(calls, part.FunctionCall)
			}
		}
		if len(calls) == 0 {
			return nil
		}

		parts := make([]*genai.Part, 0, len(calls))
		for _, fc := range calls {
			result := req.Handle(ctx, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
			parts = append(parts, genai.NewPartFromFunctionResponse(fc.Name, map[string]any{
				"output":   result.Content,
				"is_error": result.IsError,
			}))
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}
	return ErrTurnLimit
}

// declarations converts the tool catalog to Gemini function declarations.
func declarations(catalog []tools.CatalogEntry) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(catalog))
	for _, entry := range catalog {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        entry.Name,
			Description: entry.Description,
			Parameters:  parametersSchema(entry.Schema),
		})
	}
	return decls
}

func parametersSchema(s tools.Schema) *genai.Schema {
	props := make(map[string]*genai.Schema, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = propertySchema(p)
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   s.Required,
	}
}

func propertySchema(p tools.Property) *genai.Schema {
	out := &genai.Schema{
		Type:        genaiType(p.Type),
		Description: p.Description,
	}
	for _, e := range p.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(e))
	}
	if p.Items != nil {
		out.Items = &genai.Schema{Type: genaiType(p.Items.Type)}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
