package tools

import (
	"context"
	"fmt"
	"strings"

	"arcadiaforge/internal/memory"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// MemorySearchTool looks for prior solutions and knowledge matching a query.
func MemorySearchTool(mem *memory.Manager) *Tool {
	return &Tool{
		Name:        "memory_search",
		Description: "Search proven patterns and archived knowledge for solutions to a problem",
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query": {Type: "string", Description: "What you are trying to solve"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			hits, err := mem.FindSolutions(stringArg(args, "query"))
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return &Output{Text: "nothing relevant in memory"}, nil
			}
			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "[%s] %s\n", h.Source, h.Summary)
				if h.Detail != "" {
					fmt.Fprintf(&b, "  %s\n", h.Detail)
				}
			}
			return &Output{Text: b.String()}, nil
		},
	}
}

// DecisionLogTool records a decision in the journal.
func DecisionLogTool(st *store.Store, sessionID func() int64) *Tool {
	return &Tool{
		Name:        "decision_log",
		Description: "Record a decision: what was chosen, why, and with what confidence",
		Schema: Schema{
			Required: []string{"type", "context", "choice"},
			Properties: map[string]Property{
				"type":       {Type: "string", Description: "Decision kind, e.g. library, architecture, workaround"},
				"context":    {Type: "string", Description: "The situation requiring a decision"},
				"choice":     {Type: "string", Description: "What was decided"},
				"rationale":  {Type: "string", Description: "Why"},
				"confidence": {Type: "number", Description: "0..1 confidence in the choice", Default: 0.8},
				"alternatives": {
					Type: "array", Description: "Options considered and rejected",
					Items: &Items{Type: "string"},
				},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			confidence := 0.8
			if v, ok := args["confidence"].(float64); ok {
				confidence = v
			}
			id, err := st.SaveDecision(&types.Decision{
				SessionID:    sessionID(),
				Type:         stringArg(args, "type"),
				Context:      stringArg(args, "context"),
				Choice:       stringArg(args, "choice"),
				Rationale:    stringArg(args, "rationale"),
				Alternatives: stringSliceArg(args, "alternatives"),
				Confidence:   confidence,
			})
			if err != nil {
				return nil, err
			}
			return &Output{Text: fmt.Sprintf("decision %d recorded", id)}, nil
		},
	}
}

// HypothesisLogTool opens or resolves a working theory.
func HypothesisLogTool(st *store.Store, sessionID func() int64) *Tool {
	return &Tool{
		Name:        "hypothesis_log",
		Description: "Open a hypothesis about observed behavior, or resolve an existing one",
		Schema: Schema{
			Properties: map[string]Property{
				"observation": {Type: "string", Description: "What was observed (opens a new hypothesis)"},
				"hypothesis":  {Type: "string", Description: "The working theory explaining it"},
				"resolve_id":  {Type: "integer", Description: "Id of a hypothesis to resolve instead"},
				"status": {
					Type: "string", Description: "Resolution when resolve_id is set",
					Enum: []any{"confirmed", "rejected", "irrelevant"},
				},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			if id := intArg(args, "resolve_id", 0); id > 0 {
				status := types.HypothesisStatus(stringArg(args, "status"))
				switch status {
				case types.HypothesisConfirmed, types.HypothesisRejected, types.HypothesisIrrelevant:
				default:
					return nil, fmt.Errorf("status must be confirmed, rejected, or irrelevant")
				}
				if err := st.ResolveHypothesis(int64(id), status); err != nil {
					return nil, err
				}
				return &Output{Text: fmt.Sprintf("hypothesis %d %s", id, status)}, nil
			}

			observation := stringArg(args, "observation")
			theory := stringArg(args, "hypothesis")
			if observation == "" || theory == "" {
				return nil, fmt.Errorf("observation and hypothesis are required to open one")
			}
			id, err := st.SaveHypothesis(&types.Hypothesis{
				CreatedSession: sessionID(),
				Observation:    observation,
				Hypothesis:     theory,
				Confidence:     0.5,
				Status:         types.HypothesisOpen,
			})
			if err != nil {
				return nil, err
			}
			return &Output{Text: fmt.Sprintf("hypothesis %d opened", id)}, nil
		},
	}
}

// InterventionHistoryTool surfaces what humans said in similar situations.
func InterventionHistoryTool(st *store.Store) *Tool {
	return &Tool{
		Name:        "intervention_history",
		Description: "Look up past human guidance for a context signature",
		Schema: Schema{
			Required: []string{"signature"},
			Properties: map[string]Property{
				"signature": {Type: "string", Description: "The context signature to match"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			ivs, err := st.InterventionsBySignature(stringArg(args, "signature"))
			if err != nil {
				return nil, err
			}
			if len(ivs) == 0 {
				return &Output{Text: "no prior interventions"}, nil
			}
			var b strings.Builder
			for _, iv := range ivs {
				fmt.Fprintf(&b, "human said %q (agent suggested %q)\n", iv.Response, iv.Recommendation)
			}
			return &Output{Text: b.String()}, nil
		},
	}
}
