package store

import (
	"database/sql"
	"time"

	"arcadiaforge/internal/types"
)

// =============================================================================
// FAILURE REPORTS
// =============================================================================

// SaveFailureReport persists the analyzer's verdict for a bad session.
func (s *Store) SaveFailureReport(r *types.FailureReport) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO failure_reports
		   (session_id, failure_type, last_successful, failing_action, errors_json, likely_cause, confidence, similar_json, fixes_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.FailureType, r.LastSuccessful, r.FailingAction,
		jsonEncode(r.ErrorMessages), r.LikelyCause, r.Confidence,
		jsonEncode(r.SimilarPastFailures), jsonEncode(r.SuggestedFixes), r.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FailureReportForSession returns the newest report for a session, or
// ErrNotFound.
func (s *Store) FailureReportForSession(sessionID int64) (*types.FailureReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, session_id, failure_type, last_successful, failing_action, errors_json,
		        likely_cause, confidence, similar_json, fixes_json, created_at
		 FROM failure_reports WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID,
	)
	r, err := scanFailureReport(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func scanFailureReport(r rowScanner) (*types.FailureReport, error) {
	var (
		fr          types.FailureReport
		errorsJSON  string
		similarJSON string
		fixesJSON   string
	)
	err := r.Scan(&fr.ID, &fr.SessionID, &fr.FailureType, &fr.LastSuccessful, &fr.FailingAction,
		&errorsJSON, &fr.LikelyCause, &fr.Confidence, &similarJSON, &fixesJSON, &fr.CreatedAt)
	if err != nil {
		return nil, err
	}
	jsonDecode(errorsJSON, &fr.ErrorMessages)
	jsonDecode(similarJSON, &fr.SimilarPastFailures)
	jsonDecode(fixesJSON, &fr.SuggestedFixes)
	return &fr, nil
}
