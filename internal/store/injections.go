package store

import (
	"database/sql"
	"time"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// =============================================================================
// INJECTION POINTS (human channel)
// =============================================================================

// CreateInjection opens a pending request for human input and returns its id.
func (s *Store) CreateInjection(inj *types.InjectionPoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inj.CreatedAt.IsZero() {
		inj.CreatedAt = time.Now().UTC()
	}
	if inj.Status == "" {
		inj.Status = types.InjectionPending
	}
	res, err := s.db.Exec(
		`INSERT INTO injections
		   (session_id, type, context, options_json, recommendation, timeout_s, default_on_timeout, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inj.SessionID, string(inj.Type), inj.Context, jsonEncode(inj.Options),
		inj.Recommendation, inj.TimeoutSeconds, inj.DefaultOnTimeout, string(inj.Status), inj.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.Human("Injection %d created: type=%s timeout=%ds", id, inj.Type, inj.TimeoutSeconds)
	return id, nil
}

// GetInjection returns one injection point.
func (s *Store) GetInjection(id int64) (*types.InjectionPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, session_id, type, context, options_json, recommendation, timeout_s,
		        default_on_timeout, status, response, responded_by, responded_at, created_at
		 FROM injections WHERE id = ?`, id,
	)
	inj, err := scanInjection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return inj, err
}

// PendingInjections returns open requests, oldest first.
func (s *Store) PendingInjections() ([]types.InjectionPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, type, context, options_json, recommendation, timeout_s,
		        default_on_timeout, status, response, responded_by, responded_at, created_at
		 FROM injections WHERE status = ? ORDER BY id`,
		string(types.InjectionPending),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var injections []types.InjectionPoint
	for rows.Next() {
		inj, err := scanInjection(rows)
		if err != nil {
			return nil, err
		}
		injections = append(injections, *inj)
	}
	return injections, rows.Err()
}

// RespondInjection resolves a pending injection with a human response.
// Responding to a non-pending injection returns ErrNotFound so racing
// responders and the timeout path cannot both win.
func (s *Store) RespondInjection(id int64, response, respondedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE injections SET status = ?, response = ?, responded_by = ?, responded_at = ?
		 WHERE id = ? AND status = ?`,
		string(types.InjectionResponded), response, respondedBy, time.Now().UTC(),
		id, string(types.InjectionPending),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Human("Injection %d responded by %s", id, respondedBy)
	return nil
}

// TimeoutInjection resolves a pending injection with its default.
func (s *Store) TimeoutInjection(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE injections SET status = ?, response = default_on_timeout, responded_at = ?
		 WHERE id = ? AND status = ?`,
		string(types.InjectionTimeout), time.Now().UTC(), id, string(types.InjectionPending),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Human("Injection %d timed out, default applied", id)
	return nil
}

// CancelInjection withdraws a pending injection, e.g. on session teardown.
func (s *Store) CancelInjection(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE injections SET status = ? WHERE id = ? AND status = ?",
		string(types.InjectionCancelled), id, string(types.InjectionPending),
	)
	return err
}

func scanInjection(r rowScanner) (*types.InjectionPoint, error) {
	var (
		inj         types.InjectionPoint
		typ         string
		optionsJSON string
		status      string
		respondedAt sql.NullTime
	)
	err := r.Scan(&inj.ID, &inj.SessionID, &typ, &inj.Context, &optionsJSON, &inj.Recommendation,
		&inj.TimeoutSeconds, &inj.DefaultOnTimeout, &status, &inj.Response, &inj.RespondedBy,
		&respondedAt, &inj.CreatedAt)
	if err != nil {
		return nil, err
	}
	inj.Type = types.InjectionType(typ)
	inj.Status = types.InjectionStatus(status)
	jsonDecode(optionsJSON, &inj.Options)
	if respondedAt.Valid {
		t := respondedAt.Time
		inj.RespondedAt = &t
	}
	return &inj, nil
}

// =============================================================================
// INTERVENTIONS AND LEARNED PATTERNS
// =============================================================================

// SaveIntervention records a resolved non-default human response with its
// context signature.
func (s *Store) SaveIntervention(iv *types.Intervention) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO interventions
		   (session_id, injection_id, signature, tool, feature_index, error_class, autonomy_level, recommendation, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.SessionID, iv.InjectionID, iv.Signature, iv.Tool, iv.FeatureIndex,
		iv.ErrorClass, iv.AutonomyLevel, iv.Recommendation, iv.Response, iv.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InterventionsBySignature returns past interventions matching a context
// signature, newest first.
func (s *Store) InterventionsBySignature(signature string) ([]types.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, injection_id, signature, tool, feature_index, error_class,
		        autonomy_level, recommendation, response, created_at
		 FROM interventions WHERE signature = ? ORDER BY id DESC`, signature,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Intervention
	for rows.Next() {
		var iv types.Intervention
		err := rows.Scan(&iv.ID, &iv.SessionID, &iv.InjectionID, &iv.Signature, &iv.Tool,
			&iv.FeatureIndex, &iv.ErrorClass, &iv.AutonomyLevel, &iv.Recommendation,
			&iv.Response, &iv.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// UpsertInterventionPattern creates or updates the aggregate pattern for a
// signature and recomputes its auto-apply eligibility.
func (s *Store) UpsertInterventionPattern(signature, response string, succeeded bool, minApplies int, minSuccessRate float64) (*types.InterventionPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO intervention_patterns (signature, response, times_applied, times_succeeded, updated_at)
		 VALUES (?, ?, 0, 0, ?)
		 ON CONFLICT(signature) DO UPDATE SET response = excluded.response`,
		signature, response, now,
	)
	if err != nil {
		return nil, err
	}

	succ := 0
	if succeeded {
		succ = 1
	}
	_, err = s.db.Exec(
		`UPDATE intervention_patterns
		 SET times_applied = times_applied + 1, times_succeeded = times_succeeded + ?, updated_at = ?
		 WHERE signature = ?`,
		succ, now, signature,
	)
	if err != nil {
		return nil, err
	}

	p, err := s.getPatternLocked(signature)
	if err != nil {
		return nil, err
	}
	p.Confidence = p.SuccessRate()
	p.AutoApply = p.TimesApplied >= minApplies && p.Confidence >= minSuccessRate
	_, err = s.db.Exec(
		"UPDATE intervention_patterns SET confidence = ?, auto_apply = ?, min_confidence_auto = ? WHERE signature = ?",
		p.Confidence, boolToInt(p.AutoApply), minSuccessRate, signature,
	)
	if err != nil {
		return nil, err
	}
	if p.AutoApply {
		logging.Human("Pattern %s now auto-applies (applied=%d rate=%.2f)", signature[:12], p.TimesApplied, p.Confidence)
	}
	return p, nil
}

// PatternBySignature returns the learned pattern for a signature, or
// ErrNotFound.
func (s *Store) PatternBySignature(signature string) (*types.InterventionPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPatternLocked(signature)
}

func (s *Store) getPatternLocked(signature string) (*types.InterventionPattern, error) {
	row := s.db.QueryRow(
		`SELECT id, signature, response, times_applied, times_succeeded, confidence, auto_apply, min_confidence_auto, updated_at
		 FROM intervention_patterns WHERE signature = ?`, signature,
	)
	var p types.InterventionPattern
	var autoApply int
	err := row.Scan(&p.ID, &p.Signature, &p.Response, &p.TimesApplied, &p.TimesSucceeded,
		&p.Confidence, &autoApply, &p.MinConfidenceAuto, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.AutoApply = autoApply != 0
	return &p, nil
}
