package store

import (
	"time"
)

// =============================================================================
// RISK PATTERNS AND ASSESSMENTS
// =============================================================================

// RiskPatternRow is one persisted classification rule.
type RiskPatternRow struct {
	ID      int64
	Pattern string
	Level   string
	Reason  string
	Enabled bool
}

// SeedRiskPatterns inserts built-in rules that are not already present.
// Existing rows (including ones the operator disabled) are left alone.
func (s *Store) SeedRiskPatterns(patterns []RiskPatternRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range patterns {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO risk_patterns (pattern, level, reason, enabled) VALUES (?, ?, ?, 1)",
			p.Pattern, p.Level, p.Reason,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// EnabledRiskPatterns returns active rules in insertion order.
func (s *Store) EnabledRiskPatterns() ([]RiskPatternRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, pattern, level, reason, enabled FROM risk_patterns WHERE enabled = 1 ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []RiskPatternRow
	for rows.Next() {
		var p RiskPatternRow
		var enabled int
		if err := rows.Scan(&p.ID, &p.Pattern, &p.Level, &p.Reason, &enabled); err != nil {
			return nil, err
		}
		p.Enabled = enabled != 0
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// AddRiskPattern registers a custom rule.
func (s *Store) AddRiskPattern(pattern, level, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO risk_patterns (pattern, level, reason, enabled) VALUES (?, ?, ?, 1)
		 ON CONFLICT(pattern) DO UPDATE SET level = excluded.level, reason = excluded.reason, enabled = 1`,
		pattern, level, reason,
	)
	return err
}

// RiskAssessmentRow is one logged classification.
type RiskAssessmentRow struct {
	ID             int64
	SessionID      int64
	Tool           string
	Summary        string
	Level          string
	MatchedPattern string
	CreatedAt      time.Time
}

// LogRiskAssessment appends one classification to the audit trail.
func (s *Store) LogRiskAssessment(rec *RiskAssessmentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO risk_assessments (session_id, tool, summary, level, matched_pattern, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Tool, rec.Summary, rec.Level, rec.MatchedPattern, rec.CreatedAt,
	)
	return err
}

// RecentRiskAssessments returns the newest classifications.
func (s *Store) RecentRiskAssessments(limit int) ([]RiskAssessmentRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, tool, summary, level, matched_pattern, created_at
		 FROM risk_assessments ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RiskAssessmentRow
	for rows.Next() {
		var rec RiskAssessmentRow
		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Tool, &rec.Summary, &rec.Level,
			&rec.MatchedPattern, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
