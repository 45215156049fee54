// Package hooks runs the per-tool-call pipeline: security gate, risk
// classification, autonomy check, pre-checkpoint, event emission, execution,
// and outcome feedback. The pipeline itself is decision-only; all I/O goes
// through the store, the event log, and the injected collaborators.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"arcadiaforge/internal/autonomy"
	"arcadiaforge/internal/checkpoint"
	"arcadiaforge/internal/eventlog"
	"arcadiaforge/internal/human"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/memory"
	"arcadiaforge/internal/risk"
	"arcadiaforge/internal/security"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// Result is what a tool hands back through the pipeline.
type Result struct {
	Output  string
	Files   []string // files the tool touched, for working memory
	IsError bool
}

// Executor dispatches a validated tool call. The tool registry implements it.
type Executor interface {
	Execute(ctx context.Context, tool string, input map[string]any) (*Result, error)
}

// Call is one tool invocation flowing through the pipeline.
type Call struct {
	Tool         string
	Input        map[string]any
	Confidence   float64 // 1.0 when the runtime gave no signal
	FeatureIndex int     // -1 when not working a feature
}

// Outcome is the pipeline's verdict plus the tool's result when it ran.
type Outcome struct {
	Result   *Result
	Blocked  bool
	Denied   bool
	Duration time.Duration
}

// Pipeline wires the gate, classifier, autonomy manager, checkpointer, and
// human channel around tool execution.
type Pipeline struct {
	st          *store.Store
	events      *eventlog.Log
	gate        *security.Gate
	classifier  *risk.Classifier
	autonomy    *autonomy.Manager
	checkpoints *checkpoint.Manager
	channel     *human.Channel
	executor    Executor

	sessionID int64
	hot       *memory.Hot

	// Signature of an auto-applied approval pattern awaiting its outcome.
	// The pipeline runs calls sequentially, so a plain field suffices.
	pendingPatternSig string
}

// New assembles a pipeline. The human channel may be nil, in which case
// approval-requiring actions are denied rather than waiting forever.
func New(st *store.Store, events *eventlog.Log, gate *security.Gate, classifier *risk.Classifier,
	am *autonomy.Manager, cm *checkpoint.Manager, channel *human.Channel, executor Executor) *Pipeline {
	return &Pipeline{
		st:          st,
		events:      events,
		gate:        gate,
		classifier:  classifier,
		autonomy:    am,
		checkpoints: cm,
		channel:     channel,
		executor:    executor,
	}
}

// SetSession points the pipeline (and its collaborators' events) at a session.
func (p *Pipeline) SetSession(id int64) {
	p.sessionID = id
}

// SetHot attaches the session's working memory so tool activity lands there.
func (p *Pipeline) SetHot(hot *memory.Hot) {
	p.hot = hot
}

// Run takes one tool call through PRE, EXEC, and POST.
func (p *Pipeline) Run(ctx context.Context, call Call) (*Outcome, error) {
	if call.Confidence <= 0 {
		call.Confidence = 1.0
	}

	// Security gate: shell commands only, and a denial is final.
	if call.Tool == "run_shell" {
		command, _ := call.Input["command"].(string)
		if d := p.gate.Check(command); !d.Allowed {
			p.emit(types.EventToolBlocked, map[string]any{
				"tool": call.Tool, "command": command, "reason": d.Reason,
			})
			return &Outcome{Blocked: true}, fmt.Errorf("command blocked: %s", d.Reason)
		}
	}

	assessment := p.classifier.Assess(call.Tool, call.Input)

	decision := p.autonomy.CheckAction(call.Tool, call.Input, call.Confidence)
	if !decision.Allowed {
		p.emit(types.EventDecision, map[string]any{
			"tool": call.Tool, "allowed": false, "reason": decision.Reason,
			"required_level": int(decision.RequiredLevel),
			"current_level":  int(decision.EffectiveLevel),
		})
		return &Outcome{Denied: true}, fmt.Errorf("autonomy denied %s: %s", call.Tool, decision.Reason)
	}

	if assessment.RequiresApproval {
		if err := p.seekApproval(ctx, call, &assessment, &decision); err != nil {
			return &Outcome{Denied: true}, err
		}
	}

	// feature_mark is excluded: a passing mark gets its own
	// FEATURE_COMPLETE snapshot afterwards, and a failing mark is
	// reversible through the registry.
	if (assessment.RequiresCheckpoint || decision.RequiresCheckpoint) && call.Tool != "feature_mark" {
		if _, err := p.checkpoints.Create(ctx, p.sessionID, types.TriggerBeforeRiskyOp, nil, assessment.Action); err != nil {
			logging.Hooks("pre-checkpoint failed: %v", err)
		}
	}

	p.emit(types.EventToolCall, map[string]any{
		"tool": call.Tool, "action": assessment.Action, "risk": assessment.Level.String(),
	})

	// Whether this mark would be the feature's first transition to
	// passing has to be read before the tool runs; afterwards the row
	// looks the same for a fresh pass and a repeated no-op mark.
	firstPass := call.Tool == "feature_mark" && markedPassing(call.Input) && !p.featurePassing(call.Input)

	start := time.Now()
	result, execErr := p.executor.Execute(ctx, call.Tool, call.Input)
	elapsed := time.Since(start)

	p.recordOutcome(ctx, call, result, execErr, elapsed, firstPass)
	if execErr != nil {
		return &Outcome{Duration: elapsed}, execErr
	}
	return &Outcome{Result: result, Duration: elapsed}, nil
}

// seekApproval opens an injection point and blocks for the answer. Any
// answer that is not a denial lets the call continue.
func (p *Pipeline) seekApproval(ctx context.Context, call Call, assessment *risk.Assessment, decision *autonomy.Decision) error {
	if p.channel == nil {
		return fmt.Errorf("%s requires approval and no human channel is attached", call.Tool)
	}

	sig := human.Signature(call.Tool, call.FeatureIndex, "approval", int(decision.CurrentLevel))
	resp, err := p.channel.RequestInput(ctx, &types.InjectionPoint{
		Type:             types.InjectionApproval,
		Context:          fmt.Sprintf("Approve %s? %s", assessment.Action, assessment.Mitigation),
		Options:          []string{"Approve", "Deny"},
		Recommendation:   "Approve",
		DefaultOnTimeout: "Deny",
	}, sig)
	if err != nil {
		return fmt.Errorf("approval for %s: %w", call.Tool, err)
	}
	if strings.EqualFold(resp.Answer, "deny") {
		p.emit(types.EventDecision, map[string]any{
			"tool": call.Tool, "allowed": false, "reason": "denied by " + resp.RespondedBy,
		})
		return fmt.Errorf("%s denied by %s", call.Tool, resp.RespondedBy)
	}
	if resp.AutoApplied {
		// Feed the pattern so a bad auto-approval loses its standing later.
		p.pendingPatternSig = sig
	}
	return nil
}

// recordOutcome is the POST half: result events, autonomy metrics, pattern
// feedback, working memory, and the feature-complete checkpoint.
func (p *Pipeline) recordOutcome(ctx context.Context, call Call, result *Result, execErr error, elapsed time.Duration, firstPass bool) {
	success := execErr == nil && (result == nil || !result.IsError)

	if success {
		p.emit(types.EventToolResult, map[string]any{
			"tool": call.Tool, "success": true, "duration_ms": elapsed.Milliseconds(),
		})
	} else {
		msg := ""
		if execErr != nil {
			msg = execErr.Error()
		} else if result != nil {
			msg = result.Output
		}
		p.emit(types.EventToolError, map[string]any{
			"tool": call.Tool, "error": msg, "duration_ms": elapsed.Milliseconds(),
		})
	}

	level, changed := p.autonomy.RecordOutcome(success)
	if changed {
		logging.Hooks("autonomy level now %s after %s", level, call.Tool)
	}

	if p.pendingPatternSig != "" && p.channel != nil {
		if _, err := p.channel.Learner().RecordOutcome(p.pendingPatternSig, "Approve", success); err != nil {
			logging.Hooks("pattern feedback failed: %v", err)
		}
		p.pendingPatternSig = ""
	}

	if p.hot != nil {
		outcome := "ok"
		if !success {
			outcome = "error"
		}
		p.hot.AddAction(call.Tool, summarize(call.Input), outcome)
		if result != nil {
			for _, f := range result.Files {
				p.hot.AddFile(f)
			}
		}
	}

	// Re-marking an already-passing feature is a no-op and must not mint
	// a second FEATURE_COMPLETE checkpoint.
	if success && firstPass {
		if _, err := p.checkpoints.Create(ctx, p.sessionID, types.TriggerFeatureComplete, nil,
			fmt.Sprintf("feature %d passing", call.FeatureIndex)); err != nil {
			logging.Hooks("feature-complete checkpoint failed: %v", err)
		}
	}
}

func markedPassing(input map[string]any) bool {
	status, _ := input["status"].(string)
	return status == "passing"
}

// featurePassing reads the current passing bit for the feature named in a
// feature_mark input. Unknown or malformed indexes read as not passing.
func (p *Pipeline) featurePassing(input map[string]any) bool {
	var index int
	switch v := input["index"].(type) {
	case int:
		index = v
	case int64:
		index = int(v)
	case float64:
		index = int(v)
	default:
		return false
	}
	f, err := p.st.GetFeature(index)
	return err == nil && f.Passes
}

func (p *Pipeline) emit(typ types.EventType, payload map[string]any) {
	ev := types.Event{
		EventID:   uuid.NewString(),
		SessionID: p.sessionID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	}
	if p.events != nil {
		if appended, err := p.events.Append(ev); err == nil {
			ev = appended
		}
	}
	_ = p.st.RecordEvent(ev)
}

func summarize(input map[string]any) string {
	for _, key := range []string{"path", "command", "query", "url", "index"} {
		if v, ok := input[key]; ok {
			return fmt.Sprintf("%s=%v", key, v)
		}
	}
	return ""
}
