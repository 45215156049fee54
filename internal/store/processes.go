package store

import (
	"database/sql"
	"time"
)

// =============================================================================
// TRACKED PROCESSES (dev servers started by the agent)
// =============================================================================

// TrackedProcess is one long-running process the agent started and owns.
type TrackedProcess struct {
	Name      string
	PID       int
	Command   string
	StartedAt time.Time
	Status    string // running | stopped
}

// TrackProcess registers (or replaces) a named process.
func (s *Store) TrackProcess(name string, pid int, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO tracked_processes (name, pid, command, started_at, status)
		 VALUES (?, ?, ?, ?, 'running')`,
		name, pid, command, time.Now().UTC(),
	)
	return err
}

// MarkProcessStopped records that a tracked process has exited.
func (s *Store) MarkProcessStopped(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE tracked_processes SET status = 'stopped' WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTrackedProcess returns one tracked process by name.
func (s *Store) GetTrackedProcess(name string) (*TrackedProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT name, pid, command, started_at, status FROM tracked_processes WHERE name = ?", name,
	)
	var p TrackedProcess
	err := row.Scan(&p.Name, &p.PID, &p.Command, &p.StartedAt, &p.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RunningProcesses lists tracked processes still marked running.
func (s *Store) RunningProcesses() ([]TrackedProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT name, pid, command, started_at, status FROM tracked_processes WHERE status = 'running' ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procs []TrackedProcess
	for rows.Next() {
		var p TrackedProcess
		if err := rows.Scan(&p.Name, &p.PID, &p.Command, &p.StartedAt, &p.Status); err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return procs, rows.Err()
}
