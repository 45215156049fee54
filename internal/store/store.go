// Package store implements the durable project state for Arcadia Forge on
// SQLite (.arcadia/project.db). It is the single source of truth for the
// feature catalogue, sessions, checkpoints, artifacts, decisions,
// hypotheses, tiered memory rows, injection points, interventions, autonomy
// state, and risk patterns. The append-only event timeline lives in
// .arcadia/.events.jsonl (internal/eventlog); the store keeps a queryable
// mirror of events for counts and failure analysis.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	_ "modernc.org/sqlite"

	"arcadiaforge/internal/logging"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrMissingEvidence is returned when a feature would be marked passing
	// without at least one verification artifact on record.
	ErrMissingEvidence = errors.New("store: missing verification evidence")

	// ErrDependencyCycle is returned when adding features whose blocked_by
	// edges would make the dependency graph cyclic.
	ErrDependencyCycle = errors.New("store: feature dependency cycle")

	// ErrSupervisorRunning is returned when another supervisor holds the
	// project lock.
	ErrSupervisorRunning = errors.New("store: another supervisor is running")
)

// Store is the SQLite-backed project state.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	projectDir string
	lockPath   string
	locked     bool
}

// Open initializes the SQLite database at <projectDir>/.arcadia/project.db,
// creating the directory and schema as needed.
func Open(projectDir string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Join(projectDir, ".arcadia")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	dbPath := filepath.Join(dir, "project.db")

	logging.Store("Opening project store at %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("set synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("set foreign_keys=ON: %v", err)
	}

	s := &Store{
		db:         db,
		dbPath:     dbPath,
		projectDir: projectDir,
		lockPath:   filepath.Join(dir, "supervisor.lock"),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Project store ready")
	return s, nil
}

// ProjectDir returns the project root this store belongs to.
func (s *Store) ProjectDir() string {
	return s.projectDir
}

// Close releases the database and, if held, the supervisor lock.
func (s *Store) Close() error {
	if s.locked {
		s.ReleaseLock()
	}
	return s.db.Close()
}

// AcquireLock takes the exclusive supervisor lock for this project. A lock
// left behind by a dead process is reclaimed. Returns ErrSupervisorRunning
// if a live supervisor holds it.
func (s *Store) AcquireLock() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			s.locked = true
			logging.Store("Supervisor lock acquired (pid %d)", os.Getpid())
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire supervisor lock: %w", err)
		}
		if !lockIsStale(s.lockPath) {
			return ErrSupervisorRunning
		}
		logging.Store("Reclaiming stale supervisor lock at %s", s.lockPath)
		if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale supervisor lock: %w", err)
		}
	}
	return ErrSupervisorRunning
}

// ReleaseLock drops the supervisor lock if this process holds it.
func (s *Store) ReleaseLock() {
	if !s.locked {
		return
	}
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		logging.StoreError("release supervisor lock: %v", err)
	}
	s.locked = false
}

// lockIsStale reports whether the pid recorded in the lock file no longer
// refers to a live process.
func lockIsStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// initialize creates the schema.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS features (
		idx INTEGER PRIMARY KEY,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		steps_json TEXT NOT NULL DEFAULT '[]',
		passes INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 2,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_worked DATETIME,
		blocked_by_json TEXT NOT NULL DEFAULT '[]',
		blocked_reason TEXT NOT NULL DEFAULT '',
		verified_at DATETIME,
		skip_verification INTEGER NOT NULL DEFAULT 0,
		artifacts_json TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_features_passes ON features(passes);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		end_time DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		summary TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		session_id INTEGER NOT NULL,
		ts DATETIME NOT NULL,
		type TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		trigger_kind TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		commit_hash TEXT NOT NULL DEFAULT '',
		snapshot_json TEXT NOT NULL DEFAULT '{}',
		pending_json TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE(session_id, trigger_kind, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		session_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		path_relative TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		choice TEXT NOT NULL,
		alternatives_json TEXT NOT NULL DEFAULT '[]',
		rationale TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		features_json TEXT NOT NULL DEFAULT '[]',
		outcome TEXT NOT NULL DEFAULT '',
		outcome_success INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);

	CREATE TABLE IF NOT EXISTS hypotheses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_session INTEGER NOT NULL,
		observation TEXT NOT NULL,
		hypothesis TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		evidence_for_json TEXT NOT NULL DEFAULT '[]',
		evidence_against_json TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'open',
		features_json TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_hypotheses_status ON hypotheses(status);

	CREATE TABLE IF NOT EXISTS warm_summaries (
		session_id INTEGER PRIMARY KEY,
		accomplished_json TEXT NOT NULL DEFAULT '[]',
		tests_json TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT '',
		next_steps_json TEXT NOT NULL DEFAULT '[]',
		issues_found_json TEXT NOT NULL DEFAULT '[]',
		issues_fixed_json TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS unresolved_issues (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		feature_index INTEGER NOT NULL DEFAULT -1,
		severity INTEGER NOT NULL DEFAULT 2,
		first_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		attempts INTEGER NOT NULL DEFAULT 0,
		resolved INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS proven_patterns (
		id TEXT PRIMARY KEY,
		pattern_type TEXT NOT NULL,
		description TEXT NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 1,
		last_used DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS cold_knowledge (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		content TEXT NOT NULL,
		keywords_json TEXT NOT NULL DEFAULT '[]',
		solution TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cold_topic ON cold_knowledge(topic);
	CREATE INDEX IF NOT EXISTS idx_cold_signature ON cold_knowledge(signature);

	CREATE TABLE IF NOT EXISTS cold_session_stats (
		session_id INTEGER PRIMARY KEY,
		status TEXT NOT NULL,
		features_passed INTEGER NOT NULL DEFAULT 0,
		tool_calls INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		archived_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS injections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		options_json TEXT NOT NULL DEFAULT '[]',
		recommendation TEXT NOT NULL DEFAULT '',
		timeout_s INTEGER NOT NULL DEFAULT 300,
		default_on_timeout TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		response TEXT NOT NULL DEFAULT '',
		responded_by TEXT NOT NULL DEFAULT '',
		responded_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_injections_status ON injections(status);

	CREATE TABLE IF NOT EXISTS interventions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		injection_id INTEGER NOT NULL,
		signature TEXT NOT NULL,
		tool TEXT NOT NULL DEFAULT '',
		feature_index INTEGER NOT NULL DEFAULT -1,
		error_class TEXT NOT NULL DEFAULT '',
		autonomy_level INTEGER NOT NULL DEFAULT 0,
		recommendation TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_interventions_sig ON interventions(signature);

	CREATE TABLE IF NOT EXISTS intervention_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signature TEXT NOT NULL UNIQUE,
		response TEXT NOT NULL,
		times_applied INTEGER NOT NULL DEFAULT 0,
		times_succeeded INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		auto_apply INTEGER NOT NULL DEFAULT 0,
		min_confidence_auto REAL NOT NULL DEFAULT 0.8,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS autonomy_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		level INTEGER NOT NULL DEFAULT 3,
		consecutive_successes INTEGER NOT NULL DEFAULT 0,
		consecutive_errors INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS autonomy_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		category TEXT NOT NULL,
		allowed INTEGER NOT NULL,
		effective_level INTEGER NOT NULL,
		required_level INTEGER NOT NULL,
		confidence REAL NOT NULL DEFAULT 1,
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS risk_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern TEXT NOT NULL UNIQUE,
		level TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS risk_assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL DEFAULT 0,
		tool TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL,
		matched_pattern TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS escalation_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		condition_json TEXT NOT NULL DEFAULT '{}',
		severity INTEGER NOT NULL DEFAULT 3,
		auto_pause INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS tracked_processes (
		name TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		command TEXT NOT NULL,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'running'
	);

	CREATE TABLE IF NOT EXISTS failure_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		failure_type TEXT NOT NULL,
		last_successful TEXT NOT NULL DEFAULT '',
		failing_action TEXT NOT NULL DEFAULT '',
		errors_json TEXT NOT NULL DEFAULT '[]',
		likely_cause TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		similar_json TEXT NOT NULL DEFAULT '[]',
		fixes_json TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}
