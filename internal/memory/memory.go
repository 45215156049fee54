// Package memory is the tiered memory layer. Hot is the in-process working
// context of the running session. Warm keeps the last few session summaries,
// unresolved issues, and proven patterns. Cold holds archived session stats
// and distilled knowledge with a keyword index. Sessions demote Hot into
// Warm at session end, and Warm overflow is distilled into Cold.
package memory

import (
	"fmt"
	"strings"
	"time"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// Manager owns the three tiers for one project.
type Manager struct {
	st  *store.Store
	cfg config.MemoryConfig
	hot *Hot
}

// New builds a memory manager over the project store.
func New(st *store.Store, cfg config.MemoryConfig) *Manager {
	if cfg.WarmMaxSummaries <= 0 {
		cfg.WarmMaxSummaries = 5
	}
	return &Manager{st: st, cfg: cfg}
}

// StartSession creates the Hot working context for a new session.
func (m *Manager) StartSession(sessionID int64) *Hot {
	m.hot = newHot(sessionID)
	logging.Memory("hot memory started for session %d", sessionID)
	return m.hot
}

// Hot returns the current working context, or nil between sessions.
func (m *Manager) Hot() *Hot {
	return m.hot
}

// EndSession synthesizes a Warm summary from the Hot context, persists
// unresolved errors as Warm issues, evicts overflowing summaries into Cold,
// and clears Hot. The caller fills in what the session accomplished; the
// manager adds what the working context knows.
func (m *Manager) EndSession(sum *types.SessionSummary) error {
	if m.hot != nil {
		for _, e := range m.hot.ActiveErrors() {
			sum.IssuesFound = append(sum.IssuesFound, e.Message)
			_, err := m.st.SaveUnresolvedIssue(&types.UnresolvedIssue{
				Description: e.Message,
				Severity:    3,
				Attempts:    len(e.FixAttempts),
			})
			if err != nil {
				logging.Memory("carry issue forward failed: %v", err)
			}
		}
		for _, e := range m.hot.ResolvedErrors() {
			sum.IssuesFixed = append(sum.IssuesFixed, fmt.Sprintf("%s (%s)", e.Message, e.Resolution))
		}
		sum.NextSteps = append(sum.NextSteps, m.hot.PendingWork()...)
	}

	if err := m.evictOverflowToCold(); err != nil {
		logging.Memory("cold eviction failed: %v", err)
	}
	if err := m.st.SaveSessionSummary(sum, m.cfg.WarmMaxSummaries); err != nil {
		return fmt.Errorf("save session summary: %w", err)
	}

	if m.hot != nil {
		m.hot.Clear()
		m.hot = nil
	}
	logging.Memory("session %d summary demoted to warm", sum.SessionID)
	return nil
}

// evictOverflowToCold distills the summary about to fall off the Warm
// window into a Cold knowledge record before the store deletes it.
func (m *Manager) evictOverflowToCold() error {
	summaries, err := m.st.RecentSummaries(m.cfg.WarmMaxSummaries)
	if err != nil {
		return err
	}
	if len(summaries) < m.cfg.WarmMaxSummaries {
		return nil
	}

	evicted := summaries[len(summaries)-1]
	var content strings.Builder
	fmt.Fprintf(&content, "status: %s", evicted.Status)
	if len(evicted.Accomplished) > 0 {
		fmt.Fprintf(&content, "; accomplished: %s", strings.Join(evicted.Accomplished, "; "))
	}
	if len(evicted.IssuesFixed) > 0 {
		fmt.Fprintf(&content, "; fixed: %s", strings.Join(evicted.IssuesFixed, "; "))
	}
	if evicted.Notes != "" {
		fmt.Fprintf(&content, "; notes: %s", evicted.Notes)
	}

	_, err = m.st.SaveKnowledge(&types.ColdKnowledge{
		Topic:     fmt.Sprintf("session %d summary", evicted.SessionID),
		Content:   content.String(),
		Keywords:  keywordsFromSummary(&evicted),
		Solution:  strings.Join(evicted.NextSteps, "; "),
		Signature: summarySignature,
	})
	if err != nil {
		return err
	}
	logging.Memory("session %d summary evicted warm -> cold", evicted.SessionID)
	return nil
}

// summarySignature tags Cold records that came from evicted Warm summaries
// so compaction can find them.
const summarySignature = "warm_summary"

// ContinuityContext renders the Warm tier for the start of a new session:
// where the last session left off, what is still broken, what has worked.
func (m *Manager) ContinuityContext() (string, error) {
	var b strings.Builder

	summaries, err := m.st.RecentSummaries(m.cfg.WarmMaxSummaries)
	if err != nil {
		return "", err
	}
	if len(summaries) > 0 {
		last := summaries[0]
		fmt.Fprintf(&b, "## Previous Session (%d)\n", last.SessionID)
		fmt.Fprintf(&b, "Status: %s\n", last.Status)
		for _, a := range last.Accomplished {
			fmt.Fprintf(&b, "- Done: %s\n", a)
		}
		for _, s := range last.NextSteps {
			fmt.Fprintf(&b, "- Next: %s\n", s)
		}
		if last.Notes != "" {
			fmt.Fprintf(&b, "Notes: %s\n", last.Notes)
		}
	}

	issues, err := m.st.OpenIssues()
	if err != nil {
		return "", err
	}
	if len(issues) > 0 {
		b.WriteString("\n## Unresolved Issues\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- [sev %d, %d attempts] %s\n", issue.Severity, issue.Attempts, issue.Description)
		}
	}

	patterns, err := m.st.ProvenPatterns(5)
	if err != nil {
		return "", err
	}
	if len(patterns) > 0 {
		b.WriteString("\n## Proven Patterns\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "- [%s, worked %dx] %s\n", p.PatternType, p.SuccessCount, p.Description)
		}
	}
	return b.String(), nil
}

// LearnPattern records an approach that worked, bumping its success count
// when it is already known.
func (m *Manager) LearnPattern(patternType, description string) error {
	_, err := m.st.RecordProvenPattern(&types.ProvenPattern{
		PatternType: patternType,
		Description: description,
	})
	return err
}

// Solution is one hit from a cross-tier lookup.
type Solution struct {
	Source  string // "pattern" or "knowledge"
	Summary string
	Detail  string
}

// FindSolutions searches proven patterns and Cold knowledge for anything
// matching the query, patterns first.
func (m *Manager) FindSolutions(query string) ([]Solution, error) {
	var out []Solution

	patterns, err := m.st.ProvenPatterns(50)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(query)
	for _, p := range patterns {
		if containsAnyTerm(strings.ToLower(p.Description+" "+p.PatternType), lower) {
			out = append(out, Solution{Source: "pattern", Summary: p.Description, Detail: p.PatternType})
		}
	}

	knowledge, err := m.st.SearchKnowledge(query, 10)
	if err != nil {
		return nil, err
	}
	for _, k := range knowledge {
		out = append(out, Solution{Source: "knowledge", Summary: k.Topic, Detail: k.Content})
	}
	return out, nil
}

// AddKnowledge stores a distilled Cold record directly.
func (m *Manager) AddKnowledge(k *types.ColdKnowledge) error {
	_, err := m.st.SaveKnowledge(k)
	return err
}

// ArchiveSession writes the compact Cold stats record for a session.
func (m *Manager) ArchiveSession(stats *types.SessionStats) error {
	return m.st.ArchiveSessionStats(stats)
}

// Compact folds old evicted-summary records into a single digest so Cold
// stays queryable without growing one row per session forever.
func (m *Manager) Compact(now time.Time) error {
	if m.cfg.ColdCompactionDays <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, 0, -m.cfg.ColdCompactionDays)
	old, err := m.st.KnowledgeOlderThan(cutoff, summarySignature)
	if err != nil {
		return err
	}
	if len(old) < 2 {
		return nil
	}

	var content strings.Builder
	var keywords []string
	ids := make([]int64, 0, len(old))
	for _, k := range old {
		fmt.Fprintf(&content, "%s: %s\n", k.Topic, k.Content)
		keywords = append(keywords, k.Keywords...)
		ids = append(ids, k.ID)
	}

	_, err = m.st.SaveKnowledge(&types.ColdKnowledge{
		Topic:     fmt.Sprintf("digest of %d archived sessions", len(old)),
		Content:   content.String(),
		Keywords:  keywords,
		Signature: summarySignature + "_digest",
	})
	if err != nil {
		return err
	}
	if err := m.st.DeleteKnowledge(ids); err != nil {
		return err
	}
	logging.Memory("compacted %d cold summaries into one digest", len(old))
	return nil
}

func keywordsFromSummary(sum *types.SessionSummary) []string {
	var kws []string
	kws = append(kws, string(sum.Status))
	for _, issue := range sum.IssuesFound {
		kws = append(kws, strings.Fields(strings.ToLower(issue))...)
	}
	if len(kws) > 20 {
		kws = kws[:20]
	}
	return kws
}

func containsAnyTerm(haystack, query string) bool {
	for _, term := range strings.Fields(query) {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}
