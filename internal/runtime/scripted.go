package runtime

import (
	"context"
)

// Step is one action a scripted runtime performs: a text message, a tool
// call, or both (message first).
type Step struct {
	Message string
	Call    *ToolCall
}

// Scripted replays a fixed sequence of steps. It exists for supervisor
// tests and offline replay, where a real model would make runs
// nondeterministic.
type Scripted struct {
	Steps []Step

	// StopOnToolError ends the run as soon as a handler reports an error,
	// mimicking a model that gives up. Default is to keep going, like a
	// model that retries another way.
	StopOnToolError bool

	// UsagePerStep is reported through OnUsage once per step, so budget
	// accounting can be exercised deterministically.
	UsagePerStep Usage

	// Results collects what the handler returned for each executed call.
	Results []ToolResult
}

// Run implements Runtime.
func (s *Scripted) Run(ctx context.Context, req Request) error {
	for _, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.OnUsage != nil && (s.UsagePerStep.InputTokens > 0 || s.UsagePerStep.OutputTokens > 0) {
			req.OnUsage(s.UsagePerStep)
		}
		if step.Message != "" && req.OnMessage != nil {
			req.OnMessage(step.Message)
		}
		if step.Call != nil {
			result := req.Handle(ctx, *step.Call)
			s.Results = append(s.Results, result)
			if result.IsError && s.StopOnToolError {
				return nil
			}
		}
	}
	return nil
}
