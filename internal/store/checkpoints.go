package store

import (
	"database/sql"
	"time"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// =============================================================================
// CHECKPOINTS
// =============================================================================

// SaveCheckpoint persists a checkpoint. Saving the same
// (session, trigger, sequence) twice is a no-op that returns the existing
// row's id, so retried triggers never duplicate.
func (s *Store) SaveCheckpoint(cp *types.Checkpoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := cp.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO checkpoints
		   (session_id, ts, trigger_kind, sequence, commit_hash, snapshot_json, pending_json, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.SessionID, ts, string(cp.Trigger), cp.Sequence, cp.CommitHash,
		jsonEncode(cp.Snapshot), jsonEncode(cp.PendingWork), cp.Notes,
	)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		logging.Checkpoint("Checkpoint %d saved: session=%d trigger=%s seq=%d commit=%s",
			id, cp.SessionID, cp.Trigger, cp.Sequence, cp.CommitHash)
		return id, nil
	}

	var id int64
	err = s.db.QueryRow(
		"SELECT id FROM checkpoints WHERE session_id = ? AND trigger_kind = ? AND sequence = ?",
		cp.SessionID, string(cp.Trigger), cp.Sequence,
	).Scan(&id)
	return id, err
}

// GetCheckpoint returns one checkpoint by id.
func (s *Store) GetCheckpoint(id int64) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, session_id, ts, trigger_kind, sequence, commit_hash, snapshot_json, pending_json, notes
		 FROM checkpoints WHERE id = ?`, id,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return cp, err
}

// LatestCheckpoint returns the newest checkpoint, or ErrNotFound.
func (s *Store) LatestCheckpoint() (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, session_id, ts, trigger_kind, sequence, commit_hash, snapshot_json, pending_json, notes
		 FROM checkpoints ORDER BY id DESC LIMIT 1`,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return cp, err
}

// ListCheckpoints returns the newest checkpoints first.
func (s *Store) ListCheckpoints(limit int) ([]types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, ts, trigger_kind, sequence, commit_hash, snapshot_json, pending_json, notes
		 FROM checkpoints ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, *cp)
	}
	return cps, rows.Err()
}

// NextCheckpointSequence returns the next sequence number for a
// (session, trigger) pair.
func (s *Store) NextCheckpointSequence(sessionID int64, trigger types.CheckpointTrigger) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(sequence) FROM checkpoints WHERE session_id = ? AND trigger_kind = ?",
		sessionID, string(trigger),
	).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

func scanCheckpoint(r rowScanner) (*types.Checkpoint, error) {
	var (
		cp           types.Checkpoint
		trigger      string
		snapshotJSON string
		pendingJSON  string
	)
	err := r.Scan(&cp.ID, &cp.SessionID, &cp.Timestamp, &trigger, &cp.Sequence,
		&cp.CommitHash, &snapshotJSON, &pendingJSON, &cp.Notes)
	if err != nil {
		return nil, err
	}
	cp.Trigger = types.CheckpointTrigger(trigger)
	jsonDecode(snapshotJSON, &cp.Snapshot)
	jsonDecode(pendingJSON, &cp.PendingWork)
	return &cp, nil
}
