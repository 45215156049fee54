package store

import (
	"time"

	"arcadiaforge/internal/logging"
)

// =============================================================================
// AUTONOMY STATE
// =============================================================================

// AutonomyState is the single persisted row backing the autonomy manager.
type AutonomyState struct {
	Level                int
	ConsecutiveSuccesses int
	ConsecutiveErrors    int
	UpdatedAt            time.Time
}

// LoadAutonomyState returns the persisted autonomy state, seeding the row
// with defaultLevel on first use.
func (s *Store) LoadAutonomyState(defaultLevel int) (*AutonomyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO autonomy_state (id, level, updated_at) VALUES (1, ?, ?)",
		defaultLevel, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	var st AutonomyState
	err = s.db.QueryRow(
		"SELECT level, consecutive_successes, consecutive_errors, updated_at FROM autonomy_state WHERE id = 1",
	).Scan(&st.Level, &st.ConsecutiveSuccesses, &st.ConsecutiveErrors, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveAutonomyState persists the autonomy manager's counters and level.
func (s *Store) SaveAutonomyState(st *AutonomyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO autonomy_state (id, level, consecutive_successes, consecutive_errors, updated_at)
		 VALUES (1, ?, ?, ?, ?)`,
		st.Level, st.ConsecutiveSuccesses, st.ConsecutiveErrors, time.Now().UTC(),
	)
	return err
}

// AutonomyDecisionRecord is one logged allow/deny call.
type AutonomyDecisionRecord struct {
	ID             int64
	SessionID      int64
	Action         string
	Category       string
	Allowed        bool
	EffectiveLevel int
	RequiredLevel  int
	Confidence     float64
	Reason         string
	CreatedAt      time.Time
}

// LogAutonomyDecision appends one gate decision to the audit trail.
func (s *Store) LogAutonomyDecision(rec *AutonomyDecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO autonomy_decisions
		   (session_id, action, category, allowed, effective_level, required_level, confidence, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Action, rec.Category, boolToInt(rec.Allowed),
		rec.EffectiveLevel, rec.RequiredLevel, rec.Confidence, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		logging.Autonomy("log decision failed: %v", err)
	}
	return err
}

// RecentAutonomyDecisions returns the newest audit entries.
func (s *Store) RecentAutonomyDecisions(limit int) ([]AutonomyDecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, action, category, allowed, effective_level, required_level, confidence, reason, created_at
		 FROM autonomy_decisions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []AutonomyDecisionRecord
	for rows.Next() {
		var rec AutonomyDecisionRecord
		var allowed int
		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Action, &rec.Category, &allowed,
			&rec.EffectiveLevel, &rec.RequiredLevel, &rec.Confidence, &rec.Reason, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		rec.Allowed = allowed != 0
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
