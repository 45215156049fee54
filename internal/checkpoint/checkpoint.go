// Package checkpoint snapshots the project at semantic moments (feature
// passing, before risky operations, session boundaries) so work can be
// rolled back without losing the event history. A checkpoint is a real git
// commit plus the feature passing map at commit time.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/eventlog"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// Manager creates and restores checkpoints for one project.
type Manager struct {
	projectDir string
	st         *store.Store
	cfg        config.CheckpointConfig
	events     *eventlog.Log
}

// New builds a checkpoint manager. events may be nil; rollback events are
// then only mirrored into the store.
func New(projectDir string, st *store.Store, cfg config.CheckpointConfig, events *eventlog.Log) *Manager {
	return &Manager{projectDir: projectDir, st: st, cfg: cfg, events: events}
}

// EnsureRepo initializes a git repository in the project directory if one
// does not exist yet, so the first checkpoint always has a commit to make.
func (m *Manager) EnsureRepo(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(m.projectDir, ".git")); err == nil {
		return nil
	}
	if _, err := m.git(ctx, "init"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	logging.Checkpoint("initialized git repository in %s", m.projectDir)
	return nil
}

// Create takes a checkpoint for the given trigger. Retries with the same
// (session, trigger, sequence) return the already-stored checkpoint rather
// than a second one.
func (m *Manager) Create(ctx context.Context, sessionID int64, trigger types.CheckpointTrigger, pendingWork []string, notes string) (*types.Checkpoint, error) {
	timer := logging.StartTimer(logging.CategoryCheckpoint, "create")
	defer timer.Stop()

	seq, err := m.st.NextCheckpointSequence(sessionID, trigger)
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}

	if _, err := m.git(ctx, "add", "-A"); err != nil {
		return nil, fmt.Errorf("git add: %w", err)
	}

	// The message is deterministic per (session, trigger, sequence) so the
	// commit itself is recognizable in plain git log output.
	message := fmt.Sprintf("checkpoint: %s session=%d seq=%d",
		strings.ToLower(string(trigger)), sessionID, seq)
	if _, err := m.commit(ctx, message); err != nil {
		return nil, fmt.Errorf("git commit: %w", err)
	}

	hash, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("git rev-parse: %w", err)
	}

	snapshot, err := m.st.PassingStatus()
	if err != nil {
		return nil, fmt.Errorf("feature snapshot: %w", err)
	}

	cp := &types.Checkpoint{
		SessionID:   sessionID,
		Trigger:     trigger,
		Sequence:    seq,
		CommitHash:  strings.TrimSpace(hash),
		Snapshot:    snapshot,
		PendingWork: pendingWork,
		Notes:       notes,
	}
	id, err := m.st.SaveCheckpoint(cp)
	if err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	cp.ID = id

	logging.Checkpoint("created %s #%d at %s (%d features snapshotted)",
		trigger, id, cp.CommitHash[:minInt(12, len(cp.CommitHash))], len(snapshot))
	m.emit(sessionID, map[string]any{
		"action":        "create",
		"checkpoint_id": id,
		"trigger":       string(trigger),
		"commit":        cp.CommitHash,
	})
	return cp, nil
}

// RollbackResult reports what a rollback changed.
type RollbackResult struct {
	CheckpointID     int64
	CommitHash       string
	FeaturesRestored int
}

// Rollback resets the working tree to a checkpoint's commit and writes the
// stored feature snapshot back. The event history is untouched; the rollback
// itself is appended as one more CHECKPOINT event.
func (m *Manager) Rollback(ctx context.Context, sessionID, checkpointID int64) (*RollbackResult, error) {
	cp, err := m.st.GetCheckpoint(checkpointID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %d: %w", checkpointID, err)
	}

	if _, err := m.git(ctx, "reset", "--hard", cp.CommitHash); err != nil {
		return nil, fmt.Errorf("git reset to %s: %w", cp.CommitHash, err)
	}
	if _, err := m.git(ctx, "clean", "-fd"); err != nil {
		return nil, fmt.Errorf("git clean: %w", err)
	}

	if err := m.st.RestoreFeatureStatus(cp.Snapshot); err != nil {
		return nil, fmt.Errorf("restore feature status: %w", err)
	}

	logging.Checkpoint("rolled back to checkpoint %d (commit %s, %d features restored)",
		checkpointID, cp.CommitHash[:minInt(12, len(cp.CommitHash))], len(cp.Snapshot))
	m.emit(sessionID, map[string]any{
		"action":        "rollback",
		"checkpoint_id": checkpointID,
		"commit":        cp.CommitHash,
	})
	return &RollbackResult{
		CheckpointID:     checkpointID,
		CommitHash:       cp.CommitHash,
		FeaturesRestored: len(cp.Snapshot),
	}, nil
}

// RecoveryCheckpoint returns the newest FEATURE_COMPLETE checkpoint, the
// safest place to resume after a crash.
func (m *Manager) RecoveryCheckpoint() (*types.Checkpoint, error) {
	cps, err := m.st.ListCheckpoints(50)
	if err != nil {
		return nil, err
	}
	for i := range cps {
		if cps[i].Trigger == types.TriggerFeatureComplete {
			return &cps[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// CurrentCommit returns HEAD's hash.
func (m *Manager) CurrentCommit(ctx context.Context) (string, error) {
	out, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (m *Manager) IsClean(ctx context.Context) (bool, error) {
	out, err := m.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// commit commits staged changes with the configured author. An unchanged
// tree still gets a commit so every checkpoint resolves to a real hash.
func (m *Manager) commit(ctx context.Context, message string) (string, error) {
	return m.git(ctx,
		"-c", "user.name="+m.cfg.AuthorName,
		"-c", "user.email="+m.cfg.AuthorEmail,
		"commit", "--allow-empty", "-m", message,
	)
}

func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	out, err := gitCommand(ctx, m.projectDir, args...)
	if err != nil {
		logging.Checkpoint("git %s failed: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(out))
		return out, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

func (m *Manager) emit(sessionID int64, payload map[string]any) {
	ev := types.Event{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Type:      types.EventCheckpoint,
		Payload:   payload,
	}
	if m.events != nil {
		if appended, err := m.events.Append(ev); err == nil {
			ev = appended
		}
	}
	_ = m.st.RecordEvent(ev)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
