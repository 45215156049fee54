// Package types defines the durable entities shared across the Arcadia Forge
// core. Every row in .arcadia/project.db maps to one of these structs. Other
// packages hold ids, never cross-references by pointer; all mutation goes
// through the store's typed APIs.
package types

import (
	"time"
)

// FeatureCategory partitions the catalogue into functional and style cases.
type FeatureCategory string

const (
	CategoryFunctional FeatureCategory = "functional"
	CategoryStyle      FeatureCategory = "style"
)

// Feature is one test case in the catalogue; the unit of completion.
// Features are created at init (or via explicit add-requirements flows)
// and never deleted. Only the mutable fields change during normal operation:
// passes, failure_count, last_worked, blocked_by, verified_at,
// verification_artifacts, and priority.
type Feature struct {
	Index       int             `json:"index"`
	Category    FeatureCategory `json:"category"`
	Description string          `json:"description"`
	Steps       []string        `json:"steps"`

	Passes           bool       `json:"passes"`
	Priority         int        `json:"priority"` // 1 (critical) .. 4 (low)
	FailureCount     int        `json:"failure_count,omitempty"`
	LastWorked       *time.Time `json:"last_worked,omitempty"`
	BlockedBy        []int      `json:"blocked_by,omitempty"`
	Blocks           []int      `json:"blocks,omitempty"`
	BlockedReason    string     `json:"blocked_reason,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	SkipVerification bool       `json:"skip_verification,omitempty"`

	// VerificationArtifacts holds the artifact ids whose evidence backs Passes.
	VerificationArtifacts []string `json:"verification_artifacts,omitempty"`
}

// IsBlocked reports whether any blocker is still failing.
func (f *Feature) IsBlocked(status map[int]bool) bool {
	for _, idx := range f.BlockedBy {
		if !status[idx] {
			return true
		}
	}
	return false
}

// SessionStatus is the terminal (or live) disposition of a session row.
type SessionStatus string

const (
	SessionRunning        SessionStatus = "running"
	SessionSuccess        SessionStatus = "success"
	SessionFailed         SessionStatus = "failed"
	SessionIntervention   SessionStatus = "intervention"
	SessionCyclic         SessionStatus = "cyclic"
	SessionNoProgress     SessionStatus = "no_progress"
	SessionPaused         SessionStatus = "paused"
	SessionBudgetExceeded SessionStatus = "budget_exceeded"
)

// Session is one bounded run of the agent with a fresh context window.
type Session struct {
	ID        int64         `json:"id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Status    SessionStatus `json:"status"`
	Summary   string        `json:"summary,omitempty"`
}

// EventType enumerates the observable action kinds on the timeline.
type EventType string

const (
	EventSessionStart EventType = "SESSION_START"
	EventSessionEnd   EventType = "SESSION_END"
	EventToolCall     EventType = "TOOL_CALL"
	EventToolResult   EventType = "TOOL_RESULT"
	EventToolError    EventType = "TOOL_ERROR"
	EventToolBlocked  EventType = "TOOL_BLOCKED"
	EventDecision     EventType = "DECISION"
	EventCheckpoint   EventType = "CHECKPOINT"
	EventInjection    EventType = "INJECTION"
	EventEscalation   EventType = "ESCALATION"
	EventError        EventType = "ERROR"
)

// Event is one immutable record on the append-only timeline.
type Event struct {
	EventID   string         `json:"event_id"`
	SessionID int64          `json:"session_id"`
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// CheckpointTrigger names the semantic moment a checkpoint was taken.
type CheckpointTrigger string

const (
	TriggerFeatureComplete CheckpointTrigger = "FEATURE_COMPLETE"
	TriggerBeforeRiskyOp   CheckpointTrigger = "BEFORE_RISKY_OP"
	TriggerErrorRecovery   CheckpointTrigger = "ERROR_RECOVERY"
	TriggerHumanRequest    CheckpointTrigger = "HUMAN_REQUEST"
	TriggerSessionStart    CheckpointTrigger = "SESSION_START"
	TriggerSessionEnd      CheckpointTrigger = "SESSION_END"
	TriggerPause           CheckpointTrigger = "PAUSE"
)

// Checkpoint pairs a VCS commit with a feature-status map at a trigger point.
type Checkpoint struct {
	ID          int64             `json:"id"`
	SessionID   int64             `json:"session_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Trigger     CheckpointTrigger `json:"trigger"`
	Sequence    int               `json:"sequence"`
	CommitHash  string            `json:"vcs_commit_hash"`
	Snapshot    map[int]bool      `json:"feature_status_snapshot"`
	PendingWork []string          `json:"pending_work,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

// ArtifactType classifies evidence artifacts.
type ArtifactType string

const (
	ArtifactScreenshot ArtifactType = "screenshot"
	ArtifactFileWrite  ArtifactType = "file_write"
	ArtifactCommitRef  ArtifactType = "commit_ref"
	ArtifactTestResult ArtifactType = "test_result"
)

// Artifact is a content-addressed evidence record. The checksum is
// authoritative; the relative path is informational.
type Artifact struct {
	ID        string         `json:"id"`
	SessionID int64          `json:"session_id"`
	Type      ArtifactType   `json:"type"`
	Path      string         `json:"path_relative"`
	Checksum  string         `json:"sha256_checksum"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Decision is one entry in the agent's decision journal.
type Decision struct {
	ID              int64     `json:"id"`
	SessionID       int64     `json:"session_id"`
	Type            string    `json:"type"`
	Context         string    `json:"context"`
	Choice          string    `json:"choice"`
	Alternatives    []string  `json:"alternatives,omitempty"`
	Rationale       string    `json:"rationale,omitempty"`
	Confidence      float64   `json:"confidence"`
	RelatedFeatures []int     `json:"related_features,omitempty"`
	Outcome         string    `json:"outcome,omitempty"`
	OutcomeSuccess  *bool     `json:"outcome_success,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HypothesisStatus is the lifecycle state of a hypothesis.
type HypothesisStatus string

const (
	HypothesisOpen       HypothesisStatus = "open"
	HypothesisConfirmed  HypothesisStatus = "confirmed"
	HypothesisRejected   HypothesisStatus = "rejected"
	HypothesisIrrelevant HypothesisStatus = "irrelevant"
)

// Hypothesis tracks a working theory with evidence for and against.
type Hypothesis struct {
	ID              int64            `json:"id"`
	CreatedSession  int64            `json:"created_session"`
	Observation     string           `json:"observation"`
	Hypothesis      string           `json:"hypothesis"`
	Confidence      float64          `json:"confidence"`
	EvidenceFor     []string         `json:"evidence_for,omitempty"`
	EvidenceAgainst []string         `json:"evidence_against,omitempty"`
	Status          HypothesisStatus `json:"status"`
	RelatedFeatures []int            `json:"related_features,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// InjectionType names the kind of human input being requested.
type InjectionType string

const (
	InjectionDecision InjectionType = "decision"
	InjectionApproval InjectionType = "approval"
	InjectionGuidance InjectionType = "guidance"
	InjectionReview   InjectionType = "review"
	InjectionRedirect InjectionType = "redirect"
)

// InjectionStatus is the lifecycle state of an injection point.
type InjectionStatus string

const (
	InjectionPending   InjectionStatus = "pending"
	InjectionResponded InjectionStatus = "responded"
	InjectionTimeout   InjectionStatus = "timeout"
	InjectionCancelled InjectionStatus = "cancelled"
)

// InjectionPoint is a durable request for human input with a timeout and a
// default. The supervisor blocks on it; an out-of-process channel responds.
type InjectionPoint struct {
	ID               int64           `json:"id"`
	SessionID        int64           `json:"session_id"`
	Type             InjectionType   `json:"type"`
	Context          string          `json:"context"`
	Options          []string        `json:"options,omitempty"`
	Recommendation   string          `json:"recommendation,omitempty"`
	TimeoutSeconds   int             `json:"timeout_s"`
	DefaultOnTimeout string          `json:"default_on_timeout"`
	Status           InjectionStatus `json:"status"`
	Response         string          `json:"response,omitempty"`
	RespondedBy      string          `json:"responded_by,omitempty"`
	RespondedAt      *time.Time      `json:"responded_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Intervention records one resolved, non-default human response together with
// the context fingerprint it applied to.
type Intervention struct {
	ID             int64     `json:"id"`
	SessionID      int64     `json:"session_id"`
	InjectionID    int64     `json:"injection_id"`
	Signature      string    `json:"signature"`
	Tool           string    `json:"tool,omitempty"`
	FeatureIndex   int       `json:"feature_index,omitempty"`
	ErrorClass     string    `json:"error_class,omitempty"`
	AutonomyLevel  int       `json:"autonomy_level"`
	Recommendation string    `json:"recommendation,omitempty"`
	Response       string    `json:"response"`
	CreatedAt      time.Time `json:"created_at"`
}

// InterventionPattern aggregates interventions by signature. Once it has been
// applied often enough with a high success rate, AutoApply short-circuits the
// injection point with the learned response.
type InterventionPattern struct {
	ID                int64     `json:"id"`
	Signature         string    `json:"signature"`
	Response          string    `json:"response"`
	TimesApplied      int       `json:"times_applied"`
	TimesSucceeded    int       `json:"times_succeeded"`
	Confidence        float64   `json:"confidence"`
	AutoApply         bool      `json:"auto_apply"`
	MinConfidenceAuto float64   `json:"min_confidence_for_auto"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SuccessRate returns the fraction of applications that succeeded.
func (p *InterventionPattern) SuccessRate() float64 {
	if p.TimesApplied == 0 {
		return 0
	}
	return float64(p.TimesSucceeded) / float64(p.TimesApplied)
}

// SessionSummary is the Warm-memory digest of one finished session.
type SessionSummary struct {
	SessionID      int64     `json:"session_id"`
	Accomplished   []string  `json:"accomplished,omitempty"`
	TestsCompleted []int     `json:"tests_completed,omitempty"`
	Status         string    `json:"status"`
	NextSteps      []string  `json:"next_steps,omitempty"`
	IssuesFound    []string  `json:"issues_found,omitempty"`
	IssuesFixed    []string  `json:"issues_fixed,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UnresolvedIssue is a Warm-memory issue carried between sessions.
type UnresolvedIssue struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	FeatureIndex int       `json:"feature_index,omitempty"`
	Severity     int       `json:"severity"`
	FirstSeen    time.Time `json:"first_seen"`
	Attempts     int       `json:"attempts"`
	Resolved     bool      `json:"resolved"`
}

// ProvenPattern is a Warm-memory approach that has worked before.
type ProvenPattern struct {
	ID           string    `json:"id"`
	PatternType  string    `json:"pattern_type"`
	Description  string    `json:"description"`
	SuccessCount int       `json:"success_count"`
	LastUsed     time.Time `json:"last_used"`
}

// ColdKnowledge is a distilled, keyword-indexed Cold-memory record.
type ColdKnowledge struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Keywords  []string  `json:"keywords,omitempty"`
	Solution  string    `json:"solution,omitempty"`
	Signature string    `json:"signature,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStats is the compact Cold-memory archive of one session.
type SessionStats struct {
	SessionID      int64         `json:"session_id"`
	Status         SessionStatus `json:"status"`
	FeaturesPassed int           `json:"features_passed"`
	ToolCalls      int           `json:"tool_calls"`
	Errors         int           `json:"errors"`
	CostUSD        float64       `json:"cost_usd"`
	ArchivedAt     time.Time     `json:"archived_at"`
}

// PausedSession is the .paused_session.json snapshot written on clean pause.
type PausedSession struct {
	SessionID        int64  `json:"session_id"`
	CurrentFeature   int    `json:"current_feature"`
	LastCheckpointID int64  `json:"last_checkpoint_id"`
	ResumePrompt     string `json:"resume_prompt"`
	PauseReason      string `json:"pause_reason"`
	HumanNotes       string `json:"human_notes,omitempty"`
}

// FailureReport is the analyzer's post-hoc classification of a bad session.
type FailureReport struct {
	ID                  int64     `json:"id"`
	SessionID           int64     `json:"session_id"`
	FailureType         string    `json:"failure_type"`
	LastSuccessful      string    `json:"last_successful_action,omitempty"`
	FailingAction       string    `json:"failing_action,omitempty"`
	ErrorMessages       []string  `json:"error_messages,omitempty"`
	LikelyCause         string    `json:"likely_cause,omitempty"`
	Confidence          float64   `json:"confidence"`
	SimilarPastFailures []string  `json:"similar_past_failures,omitempty"`
	SuggestedFixes      []string  `json:"suggested_fixes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
