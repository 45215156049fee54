package store

import (
	"database/sql"
	"time"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession opens a new session row in the running state and returns its id.
func (s *Store) CreateSession() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO sessions (start_time, status) VALUES (?, ?)",
		time.Now().UTC(), string(types.SessionRunning),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.Store("Session %d created", id)
	return id, nil
}

// FinishSession closes a session with its terminal status and summary.
func (s *Store) FinishSession(id int64, status types.SessionStatus, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE sessions SET end_time = ?, status = ?, summary = ? WHERE id = ?",
		time.Now().UTC(), string(status), summary, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Store("Session %d finished: %s", id, status)
	return nil
}

// ReopenSession puts a paused session back in the running state so a resumed
// run keeps appending to the same event stream.
func (s *Store) ReopenSession(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE sessions SET end_time = NULL, status = ? WHERE id = ?",
		string(types.SessionRunning), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Store("Session %d reopened after pause", id)
	return nil
}

// GetSession returns one session row.
func (s *Store) GetSession(id int64) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT id, start_time, end_time, status, summary FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

// LatestSession returns the most recent session, or ErrNotFound on a fresh
// project.
func (s *Store) LatestSession() (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT id, start_time, end_time, status, summary FROM sessions ORDER BY id DESC LIMIT 1")
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, start_time, end_time, status, summary FROM sessions ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// ConsecutiveNoProgress counts how many of the latest finished sessions in a
// row ended without progress (no_progress, cyclic, or failed). The streak
// breaks at the first success or intervention.
func (s *Store) ConsecutiveNoProgress() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT status FROM sessions WHERE status != ? ORDER BY id DESC LIMIT 50",
		string(types.SessionRunning),
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, err
		}
		switch types.SessionStatus(status) {
		case types.SessionNoProgress, types.SessionCyclic, types.SessionFailed:
			count++
		default:
			return count, nil
		}
	}
	return count, rows.Err()
}

// CrashedSessions returns sessions still marked running, which after a
// supervisor restart can only mean the previous process died.
func (s *Store) CrashedSessions() ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, start_time, end_time, status, summary FROM sessions WHERE status = ? ORDER BY id",
		string(types.SessionRunning),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func scanSession(r rowScanner) (*types.Session, error) {
	var (
		sess    types.Session
		endTime sql.NullTime
		status  string
	)
	if err := r.Scan(&sess.ID, &sess.StartTime, &endTime, &status, &sess.Summary); err != nil {
		return nil, err
	}
	sess.Status = types.SessionStatus(status)
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	return &sess, nil
}

// =============================================================================
// EVENT MIRROR
// =============================================================================

// RecordEvent mirrors a timeline event into the queryable events table.
// The JSONL log is authoritative; duplicates are ignored so replay after a
// crash is idempotent.
func (s *Store) RecordEvent(ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO events (event_id, session_id, ts, type, payload_json) VALUES (?, ?, ?, ?, ?)",
		ev.EventID, ev.SessionID, ev.Timestamp.UTC(), string(ev.Type), jsonEncode(ev.Payload),
	)
	return err
}

// SessionEvents returns the events of one session in timeline order.
func (s *Store) SessionEvents(sessionID int64) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT event_id, session_id, ts, type, payload_json FROM events WHERE session_id = ? ORDER BY ts, event_id",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var typ, payloadJSON string
		if err := rows.Scan(&ev.EventID, &ev.SessionID, &ev.Timestamp, &typ, &payloadJSON); err != nil {
			return nil, err
		}
		ev.Type = types.EventType(typ)
		jsonDecode(payloadJSON, &ev.Payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountSessionEvents returns how many events of a given type a session
// produced.
func (s *Store) CountSessionEvents(sessionID int64, typ types.EventType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM events WHERE session_id = ? AND type = ?",
		sessionID, string(typ),
	).Scan(&n)
	return n, err
}
