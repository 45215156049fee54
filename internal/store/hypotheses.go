package store

import (
	"database/sql"
	"time"

	"arcadiaforge/internal/types"
)

// =============================================================================
// HYPOTHESES
// =============================================================================

// SaveHypothesis records a new working theory in the open state.
func (s *Store) SaveHypothesis(h *types.Hypothesis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	if h.Status == "" {
		h.Status = types.HypothesisOpen
	}
	res, err := s.db.Exec(
		`INSERT INTO hypotheses
		   (created_session, observation, hypothesis, confidence, evidence_for_json, evidence_against_json, status, features_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.CreatedSession, h.Observation, h.Hypothesis, h.Confidence,
		jsonEncode(h.EvidenceFor), jsonEncode(h.EvidenceAgainst),
		string(h.Status), jsonEncode(h.RelatedFeatures), h.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AddHypothesisEvidence appends evidence for or against a hypothesis and
// nudges its confidence.
func (s *Store) AddHypothesisEvidence(id int64, evidence string, supports bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.getHypothesisLocked(id)
	if err != nil {
		return err
	}
	if supports {
		h.EvidenceFor = append(h.EvidenceFor, evidence)
		h.Confidence = min(1.0, h.Confidence+0.1)
	} else {
		h.EvidenceAgainst = append(h.EvidenceAgainst, evidence)
		h.Confidence = max(0.0, h.Confidence-0.15)
	}
	_, err = s.db.Exec(
		"UPDATE hypotheses SET evidence_for_json = ?, evidence_against_json = ?, confidence = ? WHERE id = ?",
		jsonEncode(h.EvidenceFor), jsonEncode(h.EvidenceAgainst), h.Confidence, id,
	)
	return err
}

// ResolveHypothesis moves a hypothesis to a terminal status.
func (s *Store) ResolveHypothesis(id int64, status types.HypothesisStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE hypotheses SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenHypotheses returns hypotheses still under investigation.
func (s *Store) OpenHypotheses() ([]types.Hypothesis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, created_session, observation, hypothesis, confidence,
		        evidence_for_json, evidence_against_json, status, features_json, created_at
		 FROM hypotheses WHERE status = ? ORDER BY id`,
		string(types.HypothesisOpen),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hyps []types.Hypothesis
	for rows.Next() {
		h, err := scanHypothesis(rows)
		if err != nil {
			return nil, err
		}
		hyps = append(hyps, *h)
	}
	return hyps, rows.Err()
}

// GetHypothesis returns one hypothesis by id.
func (s *Store) GetHypothesis(id int64) (*types.Hypothesis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getHypothesisLocked(id)
}

func (s *Store) getHypothesisLocked(id int64) (*types.Hypothesis, error) {
	row := s.db.QueryRow(
		`SELECT id, created_session, observation, hypothesis, confidence,
		        evidence_for_json, evidence_against_json, status, features_json, created_at
		 FROM hypotheses WHERE id = ?`, id,
	)
	h, err := scanHypothesis(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return h, err
}

func scanHypothesis(r rowScanner) (*types.Hypothesis, error) {
	var (
		h            types.Hypothesis
		forJSON      string
		againstJSON  string
		status       string
		featuresJSON string
	)
	err := r.Scan(&h.ID, &h.CreatedSession, &h.Observation, &h.Hypothesis, &h.Confidence,
		&forJSON, &againstJSON, &status, &featuresJSON, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	h.Status = types.HypothesisStatus(status)
	jsonDecode(forJSON, &h.EvidenceFor)
	jsonDecode(againstJSON, &h.EvidenceAgainst)
	jsonDecode(featuresJSON, &h.RelatedFeatures)
	return &h, nil
}
