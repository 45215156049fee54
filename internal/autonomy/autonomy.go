// Package autonomy decides how much the agent may do without a human in the
// loop. Every tool call is checked against a graduated level; outcomes feed
// back so repeated failures walk the level down and sustained success walks
// it back up.
package autonomy

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
)

// Level is the graduated autonomy scale.
type Level int

const (
	Observe       Level = 1 // read-only, all actions proposed
	Plan          Level = 2 // may plan, no mutations
	ExecuteSafe   Level = 3 // safe mutations without approval
	ExecuteReview Level = 4 // risky actions allowed, flagged for review
	FullAuto      Level = 5 // everything, including destructive actions
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Observe:
		return "OBSERVE"
	case Plan:
		return "PLAN"
	case ExecuteSafe:
		return "EXECUTE_SAFE"
	case ExecuteReview:
		return "EXECUTE_REVIEW"
	case FullAuto:
		return "FULL_AUTO"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Category groups tools by the kind of side effect they have.
type Category string

const (
	CategoryRead          Category = "read"
	CategoryWrite         Category = "write"
	CategoryExecute       Category = "execute"
	CategoryFeatureModify Category = "feature_modify"
	CategoryExternal      Category = "external"
	CategoryDestructive   Category = "destructive"
)

// toolCategories maps each tool to its side-effect category. Unknown tools
// fall back to execute.
var toolCategories = map[string]Category{
	"read_file":          CategoryRead,
	"list_files":         CategoryRead,
	"search_files":       CategoryRead,
	"browser_screenshot": CategoryRead,
	"feature_list":       CategoryRead,
	"feature_next":       CategoryRead,
	"write_file":         CategoryWrite,
	"edit_file":          CategoryWrite,
	"run_shell":          CategoryExecute,
	"feature_mark":       CategoryFeatureModify,
	"feature_skip":       CategoryFeatureModify,
	"browser_navigate":   CategoryExternal,
	"browser_click":      CategoryExternal,
	"browser_type":       CategoryExternal,
}

// categoryRequiredLevels is the minimum level needed per category.
var categoryRequiredLevels = map[Category]Level{
	CategoryRead:          Observe,
	CategoryWrite:         ExecuteSafe,
	CategoryExecute:       ExecuteSafe,
	CategoryFeatureModify: ExecuteReview,
	CategoryExternal:      ExecuteSafe,
	CategoryDestructive:   FullAuto,
}

// Decision is the result of one autonomy check.
type Decision struct {
	Action         string
	Tool           string
	Category       Category
	Allowed        bool
	RequiredLevel  Level
	CurrentLevel   Level
	EffectiveLevel Level
	Confidence     float64
	Reason         string

	Alternatives       []string
	RequiresApproval   bool
	RequiresCheckpoint bool
}

// Elevation is a pending request to temporarily raise the level.
type Elevation struct {
	TargetLevel      Level
	Reason           string
	RemainingUses    int
	RequestedAt      time.Time
	RequiresApproval bool
}

// Manager tracks the autonomy level and its feedback counters. The level and
// counters persist in the store so restarts resume where the last session
// left off.
type Manager struct {
	mu        sync.Mutex
	cfg       config.AutonomyConfig
	st        *store.Store
	state     *store.AutonomyState
	sessionID int64
	elevation *Elevation

	// per-tool overrides of the required level
	overrides map[string]Level
}

// New loads the persisted autonomy state, seeding it from the configured
// level on first run.
func New(st *store.Store, cfg config.AutonomyConfig) (*Manager, error) {
	state, err := st.LoadAutonomyState(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("load autonomy state: %w", err)
	}
	m := &Manager{
		cfg:       cfg,
		st:        st,
		state:     state,
		overrides: make(map[string]Level),
	}
	m.state.Level = int(m.clamp(Level(m.state.Level)))
	logging.Autonomy("manager started at %s (successes=%d errors=%d)",
		Level(m.state.Level), state.ConsecutiveSuccesses, state.ConsecutiveErrors)
	return m, nil
}

// SetSession attributes subsequent decisions to a session.
func (m *Manager) SetSession(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
}

// Level returns the current persisted autonomy level.
func (m *Manager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Level(m.state.Level)
}

// SetLevel changes the level directly, e.g. from a human instruction.
func (m *Manager) SetLevel(level Level, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	level = m.clamp(level)
	old := Level(m.state.Level)
	if level == old {
		return nil
	}
	m.state.Level = int(level)
	logging.Autonomy("level %s -> %s: %s", old, level, reason)
	return m.st.SaveAutonomyState(m.state)
}

// SetRequiredLevel overrides the required level for one tool.
func (m *Manager) SetRequiredLevel(tool string, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[tool] = level
}

// RequiredLevel returns the level a tool call needs.
func (m *Manager) RequiredLevel(tool string) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requiredLevelLocked(tool)
}

func (m *Manager) requiredLevelLocked(tool string) Level {
	if lvl, ok := m.overrides[tool]; ok {
		return lvl
	}
	cat, ok := toolCategories[tool]
	if !ok {
		cat = CategoryExecute
	}
	if lvl, ok := categoryRequiredLevels[cat]; ok {
		return lvl
	}
	return ExecuteSafe
}

func (m *Manager) categoryFor(tool string) Category {
	if cat, ok := toolCategories[tool]; ok {
		return cat
	}
	return CategoryExecute
}

// EffectiveLevel is the working level after confidence and performance
// adjustments. Pass confidence 1.0 when none is available.
func (m *Manager) EffectiveLevel(confidence float64) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveLevelLocked(confidence)
}

func (m *Manager) effectiveLevelLocked(confidence float64) Level {
	base := Level(m.state.Level)

	if confidence < m.cfg.ConfidenceThreshold {
		reduction := Level(1)
		if confidence < 0.3 {
			reduction = 2
		}
		return m.clampLow(base - reduction)
	}

	// A run of errors lowers the working level even before the persisted
	// demotion lands.
	if m.cfg.AutoAdjust && m.state.ConsecutiveErrors >= m.cfg.ErrorDemotionCount {
		return m.clampLow(base - 1)
	}
	return base
}

// CheckAction decides whether a tool call may proceed at the current level.
// Confidence is the caller's certainty in the action (1.0 when unknown).
func (m *Manager) CheckAction(tool string, input map[string]any, confidence float64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	required := m.requiredLevelLocked(tool)
	effective := m.effectiveLevelLocked(confidence)

	// A granted elevation covers the shortfall for a bounded number of
	// actions, then expires.
	if m.elevation != nil && m.elevation.RemainingUses > 0 && m.elevation.TargetLevel > effective {
		effective = m.elevation.TargetLevel
		m.elevation.RemainingUses--
		if m.elevation.RemainingUses == 0 {
			m.elevation = nil
		}
	}

	allowed := effective >= required
	d := Decision{
		Action:         summarizeAction(tool, input),
		Tool:           tool,
		Category:       m.categoryFor(tool),
		Allowed:        allowed,
		RequiredLevel:  required,
		CurrentLevel:   Level(m.state.Level),
		EffectiveLevel: effective,
		Confidence:     confidence,
	}
	if allowed {
		d.Reason = fmt.Sprintf("%s requires %s, effective level is %s", tool, required, effective)
	} else {
		d.Reason = fmt.Sprintf("%s requires %s but effective level is %s", tool, required, effective)
		d.RequiresApproval = true
		d.RequiresCheckpoint = required >= ExecuteReview
		d.Alternatives = suggestAlternatives(tool, required)
	}

	logging.Autonomy("%s %s (required=%s effective=%s)", decisionWord(allowed), d.Action, required, effective)
	_ = m.st.LogAutonomyDecision(&store.AutonomyDecisionRecord{
		SessionID:      m.sessionID,
		Action:         d.Action,
		Category:       string(d.Category),
		Allowed:        allowed,
		EffectiveLevel: int(effective),
		RequiredLevel:  int(required),
		Confidence:     confidence,
		Reason:         d.Reason,
	})
	return d
}

// RecordOutcome feeds an action result back into the level adjustment. It
// returns the new level and whether it changed.
func (m *Manager) RecordOutcome(success bool) (Level, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.state.ConsecutiveSuccesses++
		m.state.ConsecutiveErrors = 0
	} else {
		m.state.ConsecutiveErrors++
		m.state.ConsecutiveSuccesses = 0
	}

	changed := false
	current := Level(m.state.Level)
	if m.cfg.AutoAdjust {
		switch {
		case m.state.ConsecutiveErrors >= m.cfg.ErrorDemotionCount:
			demoted := m.clampLow(current - 1)
			if demoted != current {
				m.state.Level = int(demoted)
				changed = true
				logging.Autonomy("demoted %s -> %s after %d consecutive errors",
					current, demoted, m.state.ConsecutiveErrors)
			}
		case m.state.ConsecutiveSuccesses >= m.cfg.SuccessPromotionCount:
			promoted := m.clampHigh(current + 1)
			if promoted != current {
				m.state.Level = int(promoted)
				m.state.ConsecutiveSuccesses = 0
				changed = true
				logging.Autonomy("promoted %s -> %s after sustained success", current, promoted)
			}
		}
	}

	if err := m.st.SaveAutonomyState(m.state); err != nil {
		logging.Autonomy("save state failed: %v", err)
	}
	return Level(m.state.Level), changed
}

// RequestElevation builds a temporary elevation request for human approval.
func (m *Manager) RequestElevation(target Level, reason string, durationActions int) *Elevation {
	if durationActions < 1 {
		durationActions = 1
	}
	return &Elevation{
		TargetLevel:      m.clamp(target),
		Reason:           reason,
		RemainingUses:    durationActions,
		RequestedAt:      time.Now().UTC(),
		RequiresApproval: true,
	}
}

// GrantElevation activates an approved elevation.
func (m *Manager) GrantElevation(e *Elevation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elevation = e
	logging.Autonomy("elevation to %s granted for %d actions: %s", e.TargetLevel, e.RemainingUses, e.Reason)
}

// Status summarizes the manager for status output and escalation context.
type Status struct {
	Level                Level
	EffectiveLevel       Level
	ConsecutiveSuccesses int
	ConsecutiveErrors    int
	AutoAdjust           bool
}

// Status returns a snapshot of the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Level:                Level(m.state.Level),
		EffectiveLevel:       m.effectiveLevelLocked(1.0),
		ConsecutiveSuccesses: m.state.ConsecutiveSuccesses,
		ConsecutiveErrors:    m.state.ConsecutiveErrors,
		AutoAdjust:           m.cfg.AutoAdjust,
	}
}

func (m *Manager) clamp(l Level) Level {
	return m.clampHigh(m.clampLow(l))
}

func (m *Manager) clampLow(l Level) Level {
	min := Level(m.cfg.MinLevel)
	if min < Observe {
		min = Observe
	}
	if l < min {
		return min
	}
	return l
}

func (m *Manager) clampHigh(l Level) Level {
	max := Level(m.cfg.MaxLevel)
	if max < Observe || max > FullAuto {
		max = FullAuto
	}
	if l > max {
		return max
	}
	return l
}

func summarizeAction(tool string, input map[string]any) string {
	switch tool {
	case "write_file", "edit_file", "read_file":
		if path, ok := input["path"].(string); ok {
			return fmt.Sprintf("%s %s", tool, filepath.Base(path))
		}
	case "run_shell":
		if cmd, ok := input["command"].(string); ok {
			if len(cmd) > 50 {
				cmd = cmd[:50] + "..."
			}
			return "run: " + cmd
		}
	case "feature_mark":
		if idx, ok := input["index"]; ok {
			return fmt.Sprintf("mark feature #%v as passing", idx)
		}
	}
	return tool + " operation"
}

func suggestAlternatives(tool string, required Level) []string {
	var alts []string
	if required == FullAuto {
		alts = append(alts, "Request human approval for this action",
			"Create a checkpoint before proceeding")
	}
	if required >= ExecuteReview {
		alts = append(alts, "Queue the action for human review",
			fmt.Sprintf("Request a temporary elevation to %s", required))
	}
	switch tool {
	case "write_file", "edit_file":
		alts = append(alts, "Read the current file state first")
	case "run_shell":
		alts = append(alts, "Use a safer alternative command",
			"Request approval for command execution")
	}
	return alts
}

func decisionWord(allowed bool) string {
	if allowed {
		return "ALLOW"
	}
	return "DENY"
}
