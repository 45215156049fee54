package supervisor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"arcadiaforge/internal/features"
	"arcadiaforge/internal/hooks"
	"arcadiaforge/internal/human"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/memory"
	"arcadiaforge/internal/runtime"
	"arcadiaforge/internal/types"
)

// sessionResult is what one session run reports back to the loop.
type sessionResult struct {
	id     int64
	status types.SessionStatus
	reason string
}

// runSession takes one session through INIT, RESUMING, PREP, RUN, SETTLE,
// END. Errors returned here mean the store or event log is unusable;
// everything session-shaped settles into a Session row instead.
func (s *Supervisor) runSession(ctx context.Context) (sessionResult, error) {
	prevStatus, err := s.st.PassingStatus()
	if err != nil {
		return sessionResult{}, fmt.Errorf("snapshot feature status: %w", err)
	}

	// RESUMING: adopt a paused session's id and prompt if one exists.
	paused, err := LoadPausedSession(s.projectDir)
	if err != nil {
		logging.SupervisorError("paused session file unreadable, starting fresh: %v", err)
	}
	var id int64
	resumePrompt := ""
	if paused != nil {
		if err := s.st.ReopenSession(paused.SessionID); err != nil {
			logging.SupervisorError("cannot reopen paused session %d: %v", paused.SessionID, err)
			paused = nil
		} else {
			id = paused.SessionID
			resumePrompt = paused.ResumePrompt
			if err := RemovePausedSession(s.projectDir); err != nil {
				return sessionResult{}, fmt.Errorf("remove paused session file: %w", err)
			}
			logging.Supervisor("resuming paused session %d", id)
		}
	}
	if paused == nil {
		id, err = s.st.CreateSession()
		if err != nil {
			return sessionResult{}, fmt.Errorf("create session: %w", err)
		}
	}

	s.sessionID.Store(id)
	s.pipeline.SetSession(id)
	s.autonomy.SetSession(id)
	s.classifier.SetSession(id)
	s.channel.SetSession(id)
	hot := s.memory.StartSession(id)
	s.pipeline.SetHot(hot)

	// A resumed session already has its SESSION_START; emitting another
	// would break the one-start-one-end shape of the stream.
	if paused == nil {
		s.emit(id, types.EventSessionStart, map[string]any{})
	}
	if _, err := s.checkpoints.Create(ctx, id, types.TriggerSessionStart, nil, ""); err != nil {
		logging.SupervisorError("session-start checkpoint: %v", err)
	}

	// PREP
	if paused != nil && paused.CurrentFeature > 0 {
		if f, err := s.features.Get(paused.CurrentFeature); err == nil && !f.Passes {
			hot.SetFocus(f.Index, f.Description, nil)
		}
	}
	if idx, _ := hot.Focus(); idx < 0 {
		s.pickFocus(hot)
	}
	system, user, err := s.composePrompt(hot, resumePrompt)
	if err != nil {
		return sessionResult{}, fmt.Errorf("compose prompt: %w", err)
	}

	// RUN, with the watchdog as a sibling task.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	mon := newMonitor(cancel, s.cfg.Supervisor.CyclicWindow)
	s.mu.Lock()
	s.mon = mon
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.mon = nil
		s.mu.Unlock()
	}()
	if s.pauseRequested.Load() {
		mon.flag(types.SessionPaused, s.currentPauseReason())
	}

	var runErr error
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		s.watchdog(gctx, mon)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		runErr = s.runtime.Run(gctx, runtime.Request{
			SystemPrompt: system,
			UserPrompt:   user,
			Catalog:      s.registry.Catalog(),
			Handle: func(hctx context.Context, call runtime.ToolCall) runtime.ToolResult {
				return s.handleToolCall(hctx, mon, hot, call)
			},
			OnMessage: func(string) { mon.noteMessage() },
			OnUsage: func(u runtime.Usage) {
				s.budget.Record(u.InputTokens, u.OutputTokens)
				if s.budget.Exceeded() {
					mon.flag(types.SessionBudgetExceeded, "budget cap reached")
				}
			},
		})
		return nil
	})
	_ = g.Wait()

	return s.settle(ctx, id, mon, hot, prevStatus, runErr)
}

func (s *Supervisor) currentPauseReason() string {
	if r := s.pauseReason.Load(); r != nil {
		return *r
	}
	return "pause requested"
}

// handleToolCall bridges the runtime to the hook pipeline and keeps the
// monitor current.
func (s *Supervisor) handleToolCall(ctx context.Context, mon *monitor, hot *memory.Hot, call runtime.ToolCall) runtime.ToolResult {
	mon.noteToolCall()
	featureIdx, _ := hot.Focus()

	outcome, err := s.pipeline.Run(ctx, hooks.Call{
		Tool:         call.Name,
		Input:        call.Args,
		FeatureIndex: featureIdx,
	})
	if err != nil {
		s.afterToolError(mon, hot, call, featureIdx, err.Error())
		return runtime.ToolResult{Content: err.Error(), IsError: true}
	}

	res := outcome.Result
	if res != nil && res.IsError {
		s.afterToolError(mon, hot, call, featureIdx, res.Output)
		return runtime.ToolResult{Content: res.Output, IsError: true}
	}

	s.afterToolSuccess(mon, hot, call)
	if s.budget.Exceeded() {
		mon.flag(types.SessionBudgetExceeded, "budget cap reached")
	}
	out := ""
	if res != nil {
		out = res.Output
	}
	return runtime.ToolResult{Content: out}
}

// afterToolError tracks the failure, detects cyclic behaviour, and runs the
// escalation rules.
func (s *Supervisor) afterToolError(mon *monitor, hot *memory.Hot, call runtime.ToolCall, featureIdx int, message string) {
	hot.AddError(message, call.Name)
	count := mon.noteError(featureIdx, message)

	id := s.sessionID.Load()
	if count >= s.cfg.Supervisor.CyclicThreshold {
		if mon.flag(types.SessionCyclic, fmt.Sprintf("same error %d times on feature %d", count, featureIdx)) {
			s.openInjection(&types.InjectionPoint{
				SessionID:        id,
				Type:             types.InjectionGuidance,
				Context:          fmt.Sprintf("Stuck in a loop on feature %d: %s", featureIdx, message),
				Options:          []string{"Skip this feature", "Provide guidance", "Roll back"},
				TimeoutSeconds:   s.cfg.Human.DefaultTimeoutSeconds,
				DefaultOnTimeout: "pause",
			}, true)
		}
		return
	}

	_, toolErrors, _ := mon.stats()
	escCtx := &human.EscalationContext{
		Tool:                call.Name,
		Confidence:          1,
		FeatureIndex:        featureIdx,
		ConsecutiveFailures: count,
		ErrorCount:          toolErrors,
		ErrorMessage:        message,
	}
	if esc := s.escalations.Evaluate(escCtx); esc != nil {
		s.openInjection(esc.InjectionFor(id), esc.AutoPause)
		if esc.AutoPause {
			s.RequestPause(esc.Message)
		}
	}
}

// afterToolSuccess advances the working focus as features complete.
func (s *Supervisor) afterToolSuccess(mon *monitor, hot *memory.Hot, call runtime.ToolCall) {
	switch call.Name {
	case "feature_mark":
		if status, _ := call.Args["status"].(string); status == "passing" {
			if idx := intFromArgs(call.Args, "index"); idx > 0 {
				mon.notePassed(idx)
			}
			s.pickFocus(hot)
		}
	case "feature_next":
		s.pickFocus(hot)
	}
}

// openInjection creates the durable row and emits an ESCALATION event; it
// never blocks on a response.
func (s *Supervisor) openInjection(inj *types.InjectionPoint, autoPause bool) {
	if _, err := s.st.CreateInjection(inj); err != nil {
		logging.SupervisorError("create injection point: %v", err)
		return
	}
	s.emit(inj.SessionID, types.EventEscalation, map[string]any{
		"type":       string(inj.Type),
		"context":    inj.Context,
		"auto_pause": autoPause,
	})
}

// pickFocus points working memory at the highest-salience workable feature.
func (s *Supervisor) pickFocus(hot *memory.Hot) {
	scored, err := s.features.NextBySalience(features.Context{SkipBlocked: true})
	if err != nil || scored == nil {
		return
	}
	hot.SetFocus(scored.Feature.Index, scored.Feature.Description, nil)
}

// settle closes the session out: status, regressions, pause state, Warm
// summary, Cold archive, checkpoints, events, and the failure report.
func (s *Supervisor) settle(ctx context.Context, id int64, mon *monitor, hot *memory.Hot, prevStatus map[int]bool, runErr error) (sessionResult, error) {
	toolCalls, toolErrors, passed := mon.stats()

	status, reason := mon.flagged()
	if status == "" {
		switch {
		case s.pauseRequested.Load():
			status, reason = types.SessionPaused, s.currentPauseReason()
		case runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, runtime.ErrTurnLimit):
			status, reason = types.SessionFailed, runErr.Error()
			s.recoverFromRuntimeError(ctx, id, hot, runErr)
		case ctx.Err() != nil:
			status, reason = types.SessionPaused, "shutdown"
		case len(passed) > 0:
			status = types.SessionSuccess
		default:
			status, reason = types.SessionNoProgress, "session ended without passing a feature"
		}
	}

	if regressed, err := s.features.Regressions(prevStatus); err == nil && len(regressed) > 0 {
		for _, idx := range regressed {
			escCtx := &human.EscalationContext{
				Confidence:        1,
				FeatureIndex:      idx,
				PreviouslyPassing: true,
				CurrentlyPassing:  false,
			}
			if esc := s.escalations.Evaluate(escCtx); esc != nil {
				s.openInjection(esc.InjectionFor(id), esc.AutoPause)
			}
		}
	}

	pendingWork := hot.PendingWork()
	if status == types.SessionPaused {
		if err := s.pauseSession(ctx, id, hot, reason); err != nil {
			return sessionResult{id: id}, err
		}
	}

	if _, err := s.checkpoints.Create(ctx, id, types.TriggerSessionEnd, pendingWork, reason); err != nil {
		logging.SupervisorError("session-end checkpoint: %v", err)
	}

	summary := s.buildSummary(id, status, reason, hot, passed)
	if err := s.memory.EndSession(summary); err != nil {
		logging.SupervisorError("warm summary: %v", err)
	}
	if err := s.memory.ArchiveSession(&types.SessionStats{
		SessionID:      id,
		Status:         status,
		FeaturesPassed: len(passed),
		ToolCalls:      toolCalls,
		Errors:         toolErrors,
		CostUSD:        s.budget.Spent(),
	}); err != nil {
		logging.SupervisorError("cold archive: %v", err)
	}

	// A paused session is not over; its SESSION_END comes when it settles
	// for real after resume.
	if status != types.SessionPaused {
		s.emit(id, types.EventSessionEnd, map[string]any{
			"status": string(status), "reason": reason,
			"tool_calls": toolCalls, "tool_errors": toolErrors,
			"features_passed": len(passed),
		})
	}
	if err := s.st.FinishSession(id, status, summary.Notes); err != nil {
		return sessionResult{id: id}, fmt.Errorf("finish session: %w", err)
	}

	switch status {
	case types.SessionFailed, types.SessionCyclic, types.SessionNoProgress, types.SessionBudgetExceeded:
		if _, err := s.analyzer.Analyze(id); err != nil {
			logging.SupervisorError("failure analysis: %v", err)
		}
	}

	s.checkStallStreak(id)

	logging.Supervisor("session %d settled: %s (%d tool calls, %d errors, %d passed)",
		id, status, toolCalls, toolErrors, len(passed))
	return sessionResult{id: id, status: status, reason: reason}, nil
}

// recoverFromRuntimeError handles supervisor-class failures: ERROR event,
// ERROR_RECOVERY checkpoint with the working context as pending work, and
// an approval injection so a human decides whether to keep going.
func (s *Supervisor) recoverFromRuntimeError(ctx context.Context, id int64, hot *memory.Hot, runErr error) {
	s.emit(id, types.EventError, map[string]any{"error": runErr.Error(), "source": "runtime"})
	if _, err := s.checkpoints.Create(ctx, id, types.TriggerErrorRecovery, hot.PendingWork(), runErr.Error()); err != nil {
		logging.SupervisorError("error-recovery checkpoint: %v", err)
	}
	s.openInjection(&types.InjectionPoint{
		SessionID:        id,
		Type:             types.InjectionApproval,
		Context:          "Runtime failed: " + runErr.Error() + ". Continue with the next session?",
		Options:          []string{"Continue", "Pause"},
		Recommendation:   "Continue",
		TimeoutSeconds:   s.cfg.Human.DefaultTimeoutSeconds,
		DefaultOnTimeout: "Continue",
	}, false)
}

// checkStallStreak escalates when too many sessions in a row made no
// progress; the loop itself keeps running until a human steps in or the
// budget runs out.
func (s *Supervisor) checkStallStreak(id int64) {
	streak, err := s.st.ConsecutiveNoProgress()
	if err != nil || streak < s.cfg.Supervisor.StallSessionThreshold {
		return
	}
	s.openInjection(&types.InjectionPoint{
		SessionID:        id,
		Type:             types.InjectionGuidance,
		Context:          fmt.Sprintf("%d sessions in a row without progress. What should change?", streak),
		Options:          []string{"Adjust priorities", "Skip blocked work", "Pause"},
		TimeoutSeconds:   s.cfg.Human.DefaultTimeoutSeconds,
		DefaultOnTimeout: "continue",
	}, false)
}

// buildSummary synthesizes the Warm-memory digest from working context.
func (s *Supervisor) buildSummary(id int64, status types.SessionStatus, reason string, hot *memory.Hot, passed []int) *types.SessionSummary {
	sum := &types.SessionSummary{
		SessionID:      id,
		TestsCompleted: passed,
		Status:         string(status),
		Notes:          reason,
	}
	for _, idx := range passed {
		sum.Accomplished = append(sum.Accomplished, fmt.Sprintf("feature %d verified passing", idx))
	}
	for _, e := range hot.ActiveErrors() {
		sum.IssuesFound = append(sum.IssuesFound, e.Message)
	}
	for _, e := range hot.ResolvedErrors() {
		sum.IssuesFixed = append(sum.IssuesFixed, e.Message)
	}
	sum.NextSteps = hot.PendingWork()
	return sum
}

func intFromArgs(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return -1
}
