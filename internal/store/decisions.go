package store

import (
	"database/sql"
	"time"

	"arcadiaforge/internal/types"
)

// =============================================================================
// DECISION JOURNAL
// =============================================================================

// SaveDecision appends an entry to the decision journal.
func (s *Store) SaveDecision(d *types.Decision) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO decisions
		   (session_id, type, context, choice, alternatives_json, rationale, confidence, features_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.Type, d.Context, d.Choice, jsonEncode(d.Alternatives),
		d.Rationale, d.Confidence, jsonEncode(d.RelatedFeatures), d.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateDecisionOutcome records how a past decision worked out.
func (s *Store) UpdateDecisionOutcome(id int64, outcome string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE decisions SET outcome = ?, outcome_success = ? WHERE id = ?",
		outcome, boolToInt(success), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentDecisions returns the newest journal entries, optionally filtered by
// type ("" means all).
func (s *Store) RecentDecisions(decisionType string, limit int) ([]types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, session_id, type, context, choice, alternatives_json, rationale,
	                 confidence, features_json, outcome, outcome_success, created_at
	          FROM decisions`
	args := []any{}
	if decisionType != "" {
		query += " WHERE type = ?"
		args = append(args, decisionType)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []types.Decision
	for rows.Next() {
		var (
			d                types.Decision
			altsJSON         string
			featuresJSON     string
			outcomeSuccessNI sql.NullInt64
		)
		err := rows.Scan(&d.ID, &d.SessionID, &d.Type, &d.Context, &d.Choice, &altsJSON,
			&d.Rationale, &d.Confidence, &featuresJSON, &d.Outcome, &outcomeSuccessNI, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		jsonDecode(altsJSON, &d.Alternatives)
		jsonDecode(featuresJSON, &d.RelatedFeatures)
		if outcomeSuccessNI.Valid {
			b := outcomeSuccessNI.Int64 != 0
			d.OutcomeSuccess = &b
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
