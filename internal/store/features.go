package store

import (
	"database/sql"
	"fmt"
	"time"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// =============================================================================
// FEATURE CATALOGUE
// =============================================================================

// CreateFeatures inserts new catalogue entries. The combined dependency
// graph (existing rows plus the new batch) must stay acyclic; on a cycle
// nothing is inserted and ErrDependencyCycle is returned.
func (s *Store) CreateFeatures(features []types.Feature) error {
	timer := logging.StartTimer(logging.CategoryStore, "CreateFeatures")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadDependencyEdges()
	if err != nil {
		return err
	}
	for _, f := range features {
		existing[f.Index] = append([]int(nil), f.BlockedBy...)
	}
	if hasCycle(existing) {
		return ErrDependencyCycle
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, f := range features {
		priority := f.Priority
		if priority < 1 || priority > 4 {
			priority = 2
		}
		_, err := tx.Exec(
			`INSERT INTO features (idx, category, description, steps_json, passes, priority, blocked_by_json)
			 VALUES (?, ?, ?, ?, 0, ?, ?)`,
			f.Index, string(f.Category), f.Description, jsonEncode(f.Steps), priority, jsonEncode(f.BlockedBy),
		)
		if err != nil {
			return fmt.Errorf("insert feature %d: %w", f.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit features: %w", err)
	}

	logging.Features("Created %d features", len(features))
	return nil
}

// GetFeature returns one catalogue entry by index.
func (s *Store) GetFeature(index int) (*types.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT idx, category, description, steps_json, passes, priority, failure_count,
		        last_worked, blocked_by_json, blocked_reason, verified_at, skip_verification, artifacts_json
		 FROM features WHERE idx = ?`, index,
	)
	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFeatures returns the whole catalogue ordered by index, with reverse
// dependency edges (Blocks) populated.
func (s *Store) ListFeatures() ([]types.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT idx, category, description, steps_json, passes, priority, failure_count,
		        last_worked, blocked_by_json, blocked_reason, verified_at, skip_verification, artifacts_json
		 FROM features ORDER BY idx`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []types.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Derive Blocks from BlockedBy.
	pos := make(map[int]int, len(features))
	for i := range features {
		pos[features[i].Index] = i
	}
	for i := range features {
		for _, blocker := range features[i].BlockedBy {
			if j, ok := pos[blocker]; ok {
				features[j].Blocks = append(features[j].Blocks, features[i].Index)
			}
		}
	}
	return features, nil
}

// PassingStatus returns index -> passes for the whole catalogue.
func (s *Store) PassingStatus() (map[int]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT idx, passes FROM features")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	status := make(map[int]bool)
	for rows.Next() {
		var idx, passes int
		if err := rows.Scan(&idx, &passes); err != nil {
			return nil, err
		}
		status[idx] = passes != 0
	}
	return status, rows.Err()
}

// MarkFeaturePassing flips a feature to passing. At least one artifact id
// must be supplied and every id must exist in the artifact store, otherwise
// ErrMissingEvidence is returned and the feature is untouched.
func (s *Store) MarkFeaturePassing(index int, artifactIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(artifactIDs) == 0 {
		return ErrMissingEvidence
	}
	for _, id := range artifactIDs {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts WHERE id = ?", id).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: artifact %s not on record", ErrMissingEvidence, id)
		}
	}

	res, err := s.db.Exec(
		`UPDATE features SET passes = 1, verified_at = ?, artifacts_json = ? WHERE idx = ?`,
		time.Now().UTC(), jsonEncode(artifactIDs), index,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Features("Feature %d marked passing (%d artifacts)", index, len(artifactIDs))
	return nil
}

// MarkFeaturePassingUnverified flips a feature to passing without evidence.
// Only features flagged skip_verification may take this path; everything
// else gets ErrMissingEvidence.
func (s *Store) MarkFeaturePassingUnverified(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var skip int
	err := s.db.QueryRow("SELECT skip_verification FROM features WHERE idx = ?", index).Scan(&skip)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if skip == 0 {
		return ErrMissingEvidence
	}

	_, err = s.db.Exec("UPDATE features SET passes = 1, verified_at = ? WHERE idx = ?", time.Now().UTC(), index)
	if err != nil {
		return err
	}
	logging.Features("Feature %d marked passing (verification exempt)", index)
	return nil
}

// MarkFeatureFailing reverts a feature to failing, e.g. on a detected
// regression. Verification history is kept; only the passing bit and
// verified_at are cleared.
func (s *Store) MarkFeatureFailing(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE features SET passes = 0, verified_at = NULL WHERE idx = ?", index)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Features("Feature %d reverted to failing", index)
	return nil
}

// RestoreFeatureStatus writes a checkpoint's passing snapshot back over the
// features table. Used only by rollback; unlike MarkFeaturePassing it does
// not demand evidence, because the snapshot was taken from verified state.
func (s *Store) RestoreFeatureStatus(snapshot map[int]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for index, passes := range snapshot {
		if passes {
			_, err = tx.Exec("UPDATE features SET passes = 1 WHERE idx = ?", index)
		} else {
			_, err = tx.Exec("UPDATE features SET passes = 0, verified_at = NULL WHERE idx = ?", index)
		}
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Features("Restored passing status for %d features", len(snapshot))
	return nil
}

// RecordFeatureAttempt stamps last_worked and, on a failed attempt,
// increments failure_count. This is the only writer of failure_count.
func (s *Store) RecordFeatureAttempt(index int, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res sql.Result
	var err error
	if success {
		res, err = s.db.Exec("UPDATE features SET last_worked = ? WHERE idx = ?", time.Now().UTC(), index)
	} else {
		res, err = s.db.Exec(
			"UPDATE features SET last_worked = ?, failure_count = failure_count + 1 WHERE idx = ?",
			time.Now().UTC(), index,
		)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFeaturePriority adjusts a feature's priority (1 critical .. 4 low).
func (s *Store) SetFeaturePriority(index, priority int) error {
	if priority < 1 || priority > 4 {
		return fmt.Errorf("priority must be 1..4, got %d", priority)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE features SET priority = ? WHERE idx = ?", priority, index)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBlockedReason records why a feature is parked.
func (s *Store) SetBlockedReason(index int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE features SET blocked_reason = ? WHERE idx = ?", reason, index)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBlockedBy replaces a feature's blocker list. An update that would
// create a dependency cycle is rejected.
func (s *Store) SetBlockedBy(index int, blockedBy []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges, err := s.loadDependencyEdges()
	if err != nil {
		return err
	}
	if _, ok := edges[index]; !ok {
		return ErrNotFound
	}
	edges[index] = blockedBy
	if hasCycle(edges) {
		return fmt.Errorf("blockers %v for feature %d would create a dependency cycle", blockedBy, index)
	}

	_, err = s.db.Exec("UPDATE features SET blocked_by_json = ? WHERE idx = ?", jsonEncode(blockedBy), index)
	return err
}

// CountFeatures returns (total, passing).
func (s *Store) CountFeatures() (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, passing int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM features").Scan(&total); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM features WHERE passes = 1").Scan(&passing); err != nil {
		return 0, 0, err
	}
	return total, passing, nil
}

// loadDependencyEdges returns index -> blocked_by for the current catalogue.
// Caller holds the lock.
func (s *Store) loadDependencyEdges() (map[int][]int, error) {
	rows, err := s.db.Query("SELECT idx, blocked_by_json FROM features")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make(map[int][]int)
	for rows.Next() {
		var idx int
		var blockedJSON string
		if err := rows.Scan(&idx, &blockedJSON); err != nil {
			return nil, err
		}
		var blockedBy []int
		jsonDecode(blockedJSON, &blockedBy)
		edges[idx] = blockedBy
	}
	return edges, rows.Err()
}

// hasCycle runs three-color DFS over the blocked_by graph.
func hasCycle(edges map[int][]int) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(edges))

	var visit func(n int) bool
	visit = func(n int) bool {
		color[n] = gray
		for _, dep := range edges[n] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}

	for n := range edges {
		if color[n] == white && visit(n) {
			return true
		}
	}
	return false
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeature(r rowScanner) (*types.Feature, error) {
	var (
		f             types.Feature
		category      string
		stepsJSON     string
		passes        int
		lastWorked    sql.NullTime
		blockedJSON   string
		verifiedAt    sql.NullTime
		skipVerify    int
		artifactsJSON string
	)
	err := r.Scan(&f.Index, &category, &f.Description, &stepsJSON, &passes, &f.Priority,
		&f.FailureCount, &lastWorked, &blockedJSON, &f.BlockedReason, &verifiedAt, &skipVerify, &artifactsJSON)
	if err != nil {
		return nil, err
	}
	f.Category = types.FeatureCategory(category)
	f.Passes = passes != 0
	f.SkipVerification = skipVerify != 0
	jsonDecode(stepsJSON, &f.Steps)
	jsonDecode(blockedJSON, &f.BlockedBy)
	jsonDecode(artifactsJSON, &f.VerificationArtifacts)
	if lastWorked.Valid {
		t := lastWorked.Time
		f.LastWorked = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		f.VerifiedAt = &t
	}
	return &f, nil
}
