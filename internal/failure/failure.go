// Package failure analyzes a finished session's event timeline and produces
// a report explaining what went wrong: the failure class, the last action
// that worked, the action that did not, and fix suggestions seeded from
// similar past failures.
package failure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"arcadiaforge/internal/eventlog"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// Failure classes, from most to least specific.
const (
	ClassCyclicError     = "cyclic_error"
	ClassBlockedCommands = "blocked_commands"
	ClassRegression      = "regression"
	ClassTimeout         = "timeout"
	ClassCrash           = "crash"
	ClassOK              = "ok"
)

// cyclicDistinctMax: three or more errors that boil down to at most this
// many distinct messages count as a loop.
const (
	cyclicMinErrors   = 3
	cyclicDistinctMax = 2
	maxErrorMessages  = 10
	maxSimilar        = 5
)

// Analyzer builds failure reports from the store's event timeline.
type Analyzer struct {
	st     *store.Store
	events *eventlog.Log
}

// New builds an analyzer. The event log may be nil; the store timeline is
// the source of truth.
func New(st *store.Store, events *eventlog.Log) *Analyzer {
	return &Analyzer{st: st, events: events}
}

// Analyze scans a session's events, classifies the failure, persists the
// report, and emits an ERROR event carrying the verdict. Sessions that look
// healthy still get a report with class "ok" so callers can tell "analyzed
// and fine" from "never analyzed".
func (a *Analyzer) Analyze(sessionID int64) (*types.FailureReport, error) {
	events, err := a.st.SessionEvents(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %d events: %w", sessionID, err)
	}

	scan := scanEvents(events)
	report := &types.FailureReport{
		SessionID:      sessionID,
		LastSuccessful: scan.lastSuccessful,
		FailingAction:  scan.failingAction,
		ErrorMessages:  scan.errorMessages,
		CreatedAt:      time.Now().UTC(),
	}

	sess, err := a.st.GetSession(sessionID)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	report.FailureType, report.LikelyCause, report.Confidence = classify(scan, sess)
	report.SuggestedFixes = suggestedFixes(report.FailureType, scan)

	sig := reportSignature(report)
	report.SimilarPastFailures = a.similarFailures(sig)

	if _, err := a.st.SaveFailureReport(report); err != nil {
		return nil, fmt.Errorf("save failure report: %w", err)
	}
	a.rememberFailure(report, sig)
	a.emit(report)

	logging.Failure("session %d classified %s (%.0f%% confidence): %s",
		sessionID, report.FailureType, report.Confidence*100, report.LikelyCause)
	return report, nil
}

// ReportFor returns the newest stored report for a session.
func (a *Analyzer) ReportFor(sessionID int64) (*types.FailureReport, error) {
	return a.st.FailureReportForSession(sessionID)
}

// scanResult is the raw material classify works from.
type scanResult struct {
	lastSuccessful string
	failingAction  string
	errorMessages  []string
	normalized     map[string]int // normalized error -> occurrences
	errorCount     int
	blockedCount   int
	regressions    int
	toolCalls      int
	sawTimeout     bool
	sawSessionEnd  bool
}

func scanEvents(events []types.Event) *scanResult {
	scan := &scanResult{normalized: make(map[string]int)}
	for _, ev := range events {
		switch ev.Type {
		case types.EventToolCall:
			scan.toolCalls++

		case types.EventToolResult:
			if tool, ok := ev.Payload["tool"].(string); ok {
				scan.lastSuccessful = "tool " + tool
			}

		case types.EventToolError, types.EventError:
			msg, _ := ev.Payload["error"].(string)
			switch kind, _ := ev.Payload["kind"].(string); kind {
			case "regression":
				scan.regressions++
				continue
			case "failure_report":
				// A previous analysis pass; not part of the session's own story.
				continue
			}
			scan.errorCount++
			if msg == "" {
				continue
			}
			if tool, ok := ev.Payload["tool"].(string); ok && tool != "" {
				scan.failingAction = fmt.Sprintf("tool %s: %s", tool, truncate(msg, 100))
			} else {
				scan.failingAction = truncate(msg, 100)
			}
			if len(scan.errorMessages) < maxErrorMessages {
				scan.errorMessages = append(scan.errorMessages, truncate(msg, 200))
			}
			scan.normalized[normalizeError(msg)]++
			low := strings.ToLower(msg)
			if strings.Contains(low, "timeout") || strings.Contains(low, "timed out") ||
				strings.Contains(low, "deadline exceeded") {
				scan.sawTimeout = true
			}

		case types.EventToolBlocked:
			scan.blockedCount++

		case types.EventSessionEnd:
			scan.sawSessionEnd = true
		}
	}
	return scan
}

// classify maps the scan onto a failure class. Order matters: the loops and
// security walls are more specific than a generic bad session status.
func classify(scan *scanResult, sess *types.Session) (class, cause string, confidence float64) {
	if scan.errorCount >= cyclicMinErrors && len(scan.normalized) <= cyclicDistinctMax && len(scan.normalized) > 0 {
		return ClassCyclicError,
			fmt.Sprintf("same error repeated %d times", scan.errorCount), 0.9
	}
	if scan.blockedCount > 0 {
		return ClassBlockedCommands,
			fmt.Sprintf("%d commands blocked by the security gate", scan.blockedCount), 0.95
	}
	if scan.regressions > 0 {
		return ClassRegression,
			fmt.Sprintf("%d previously passing features regressed", scan.regressions), 0.85
	}
	if scan.sawTimeout || (sess != nil && sess.Status == types.SessionNoProgress) {
		return ClassTimeout, "operations timed out or the session stalled", 0.8
	}
	if sess != nil {
		switch sess.Status {
		case types.SessionRunning:
			// Still marked running after the fact means the process died
			// without settling the session.
			if !scan.sawSessionEnd {
				return ClassCrash, "session never reached a clean end", 0.7
			}
		case types.SessionFailed:
			return ClassCrash, "session ended with a failure status", 0.7
		case types.SessionCyclic:
			return ClassCyclicError, "watchdog stopped the session for cyclic errors", 0.9
		}
	}
	if scan.errorCount > 0 {
		return ClassOK, fmt.Sprintf("%d recoverable errors, session completed", scan.errorCount), 0.5
	}
	return ClassOK, "no failure signal detected", 0.3
}

func suggestedFixes(class string, scan *scanResult) []string {
	switch class {
	case ClassCyclicError:
		return []string{
			"Try a different approach instead of retrying the same action",
			"Check whether a prerequisite step is missing",
			"Consider whether the feature is blocked by another issue",
		}
	case ClassBlockedCommands:
		return []string{
			"Use allowed alternatives for the blocked commands",
			"Review the security allowlist in the config",
			"Request human approval for sensitive operations",
		}
	case ClassRegression:
		return []string{
			"Roll back to the last FEATURE_COMPLETE checkpoint",
			"Re-run verification for the regressed features",
			"Inspect the last edits touching shared code paths",
		}
	case ClassTimeout:
		return []string{
			"Break the operation into smaller steps",
			"Check for blocking operations or infinite loops",
			"Raise the timeout if the operation is legitimately slow",
		}
	case ClassCrash:
		return []string{
			"Resume from the recovery checkpoint",
			"Check the supervisor log for the crash site",
		}
	}
	if scan.errorCount > 0 {
		return []string{"Review the error messages for one-off issues"}
	}
	return nil
}

// reportSignature fingerprints the failure so Cold memory can match this
// class of problem across sessions regardless of wording.
func reportSignature(r *types.FailureReport) string {
	first := ""
	if len(r.ErrorMessages) > 0 {
		first = normalizeError(r.ErrorMessages[0])
	}
	sum := sha256.Sum256([]byte(r.FailureType + "|" + first))
	return hex.EncodeToString(sum[:])[:16]
}

// similarFailures pulls prior knowledge rows sharing this signature.
func (a *Analyzer) similarFailures(sig string) []string {
	rows, err := a.st.KnowledgeBySignature(sig)
	if err != nil {
		logging.Failure("similar failure lookup failed: %v", err)
		return nil
	}
	var out []string
	for _, k := range rows {
		entry := k.Content
		if k.Solution != "" {
			entry += " (fix: " + k.Solution + ")"
		}
		out = append(out, entry)
		if len(out) == maxSimilar {
			break
		}
	}
	return out
}

// rememberFailure archives the verdict in Cold memory so future sessions
// hitting the same wall can find it by signature.
func (a *Analyzer) rememberFailure(r *types.FailureReport, sig string) {
	if r.FailureType == ClassOK {
		return
	}
	solution := ""
	if len(r.SuggestedFixes) > 0 {
		solution = r.SuggestedFixes[0]
	}
	k := &types.ColdKnowledge{
		Topic:     "failure: " + r.FailureType,
		Content:   fmt.Sprintf("session %d: %s", r.SessionID, r.LikelyCause),
		Keywords:  []string{"failure", r.FailureType},
		Solution:  solution,
		Signature: sig,
	}
	if _, err := a.st.SaveKnowledge(k); err != nil {
		logging.Failure("archive failure knowledge: %v", err)
	}
}

func (a *Analyzer) emit(r *types.FailureReport) {
	ev := types.Event{
		EventID:   uuid.NewString(),
		SessionID: r.SessionID,
		Timestamp: time.Now().UTC(),
		Type:      types.EventError,
		Payload: map[string]any{
			"kind":         "failure_report",
			"failure_type": r.FailureType,
			"likely_cause": r.LikelyCause,
			"confidence":   r.Confidence,
		},
	}
	if a.events != nil {
		if appended, err := a.events.Append(ev); err == nil {
			ev = appended
		}
	}
	_ = a.st.RecordEvent(ev)
}

var (
	digitRun = regexp.MustCompile(`\d+`)
	hexRun   = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	wsRun    = regexp.MustCompile(`\s+`)
)

// normalizeError strips the volatile parts of an error message (addresses,
// counters, line numbers) so repeats of the same problem compare equal.
func normalizeError(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	s = hexRun.ReplaceAllString(s, "0xN")
	s = digitRun.ReplaceAllString(s, "N")
	s = wsRun.ReplaceAllString(s, " ")
	return truncate(s, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
