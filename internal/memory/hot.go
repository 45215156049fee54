package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxRecentActions = 20
	maxRecentFiles   = 10
)

// Action is one recent tool invocation kept in working context.
type Action struct {
	Tool   string
	Action string
	Result string
	At     time.Time
}

// ActiveError is an unresolved error the agent is currently chasing.
type ActiveError struct {
	ID          string
	Message     string
	Context     string
	FixAttempts []string
	Resolved    bool
	Resolution  string
	FirstSeen   time.Time
}

// PendingDecision is an open question carried in working context until the
// agent or a human answers it.
type PendingDecision struct {
	ID         string
	Question   string
	Options    []string
	Confidence float64
	CreatedAt  time.Time
}

// Hot is the per-session working context. It lives only in memory and is
// synthesized into a Warm summary at session end, then discarded.
type Hot struct {
	mu sync.Mutex

	sessionID      int64
	currentFeature int
	currentTask    string
	focusKeywords  []string

	recentActions []Action
	recentFiles   []string
	errors        []*ActiveError
	decisions     []*PendingDecision
}

func newHot(sessionID int64) *Hot {
	return &Hot{sessionID: sessionID, currentFeature: -1}
}

// SetFocus records what the agent is working on right now.
func (h *Hot) SetFocus(featureIndex int, task string, keywords []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentFeature = featureIndex
	h.currentTask = task
	h.focusKeywords = keywords
}

// Focus returns the current feature index and task.
func (h *Hot) Focus() (int, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentFeature, h.currentTask
}

// FocusKeywords returns the keywords for the current focus.
func (h *Hot) FocusKeywords() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.focusKeywords...)
}

// AddAction appends to the bounded recent-action window.
func (h *Hot) AddAction(tool, action, result string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recentActions = append(h.recentActions, Action{Tool: tool, Action: action, Result: result, At: time.Now().UTC()})
	if len(h.recentActions) > maxRecentActions {
		h.recentActions = h.recentActions[len(h.recentActions)-maxRecentActions:]
	}
}

// AddFile records a file access, most recent first, deduplicated.
func (h *Hot) AddFile(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	files := []string{path}
	for _, f := range h.recentFiles {
		if f != path {
			files = append(files, f)
		}
	}
	if len(files) > maxRecentFiles {
		files = files[:maxRecentFiles]
	}
	h.recentFiles = files
}

// RecentFiles returns recently accessed files, most recent first.
func (h *Hot) RecentFiles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.recentFiles...)
}

// AddError tracks a new active error and returns its ID.
func (h *Hot) AddError(message, context string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &ActiveError{
		ID:        uuid.NewString()[:8],
		Message:   message,
		Context:   context,
		FirstSeen: time.Now().UTC(),
	}
	h.errors = append(h.errors, e)
	return e.ID
}

// RecordFixAttempt appends a fix attempt to an active error.
func (h *Hot) RecordFixAttempt(errorID, fix string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.errors {
		if e.ID == errorID && !e.Resolved {
			e.FixAttempts = append(e.FixAttempts, fix)
			return true
		}
	}
	return false
}

// ResolveError marks an active error as fixed.
func (h *Hot) ResolveError(errorID, resolution string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.errors {
		if e.ID == errorID && !e.Resolved {
			e.Resolved = true
			e.Resolution = resolution
			return true
		}
	}
	return false
}

// ActiveErrors returns the unresolved errors.
func (h *Hot) ActiveErrors() []ActiveError {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ActiveError
	for _, e := range h.errors {
		if !e.Resolved {
			out = append(out, *e)
		}
	}
	return out
}

// ResolvedErrors returns the errors fixed this session.
func (h *Hot) ResolvedErrors() []ActiveError {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ActiveError
	for _, e := range h.errors {
		if e.Resolved {
			out = append(out, *e)
		}
	}
	return out
}

// AddPendingDecision queues an open question and returns its ID.
func (h *Hot) AddPendingDecision(question string, options []string, confidence float64) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := &PendingDecision{
		ID:         uuid.NewString()[:8],
		Question:   question,
		Options:    options,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	h.decisions = append(h.decisions, d)
	return d.ID
}

// ResolveDecision removes a pending decision and returns it.
func (h *Hot) ResolveDecision(id string) *PendingDecision {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, d := range h.decisions {
		if d.ID == id {
			h.decisions = append(h.decisions[:i], h.decisions[i+1:]...)
			return d
		}
	}
	return nil
}

// PendingDecisions returns the open questions.
func (h *Hot) PendingDecisions() []PendingDecision {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PendingDecision, 0, len(h.decisions))
	for _, d := range h.decisions {
		out = append(out, *d)
	}
	return out
}

// PendingWork flattens the working context into checkpoint notes so an
// ERROR_RECOVERY checkpoint carries enough to resume from.
func (h *Hot) PendingWork() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var work []string
	if h.currentTask != "" {
		work = append(work, fmt.Sprintf("working on feature %d: %s", h.currentFeature, h.currentTask))
	}
	for _, e := range h.errors {
		if !e.Resolved {
			work = append(work, "unresolved error: "+e.Message)
		}
	}
	for _, d := range h.decisions {
		work = append(work, "pending decision: "+d.Question)
	}
	return work
}

// PromptContext renders the working context for the session prompt.
func (h *Hot) PromptContext() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	b.WriteString("## Working Context\n")
	if h.currentTask != "" {
		fmt.Fprintf(&b, "Current focus: feature %d, %s\n", h.currentFeature, h.currentTask)
	}
	if len(h.recentFiles) > 0 {
		fmt.Fprintf(&b, "Recent files: %s\n", strings.Join(h.recentFiles, ", "))
	}
	active := 0
	for _, e := range h.errors {
		if !e.Resolved {
			active++
			fmt.Fprintf(&b, "Active error [%s]: %s (%d fix attempts)\n", e.ID, e.Message, len(e.FixAttempts))
		}
	}
	for _, d := range h.decisions {
		fmt.Fprintf(&b, "Pending decision [%s]: %s\n", d.ID, d.Question)
	}
	if n := len(h.recentActions); n > 0 {
		last := h.recentActions[n-1]
		fmt.Fprintf(&b, "Last action: %s (%s)\n", last.Action, last.Tool)
	}
	return b.String()
}

// Clear drops everything. Called after the Warm summary is synthesized.
func (h *Hot) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentFeature = -1
	h.currentTask = ""
	h.focusKeywords = nil
	h.recentActions = nil
	h.recentFiles = nil
	h.errors = nil
	h.decisions = nil
}
