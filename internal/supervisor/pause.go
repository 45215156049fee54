package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/memory"
	"arcadiaforge/internal/types"
)

// PausedFileName is the project-root marker whose presence means a session
// is paused and should be resumed on the next start.
const PausedFileName = ".paused_session.json"

func pausedPath(projectDir string) string {
	return filepath.Join(projectDir, PausedFileName)
}

// LoadPausedSession reads the paused-session snapshot. Returns (nil, nil)
// when no session is paused.
func LoadPausedSession(projectDir string) (*types.PausedSession, error) {
	data, err := os.ReadFile(pausedPath(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read paused session: %w", err)
	}
	var p types.PausedSession
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse paused session: %w", err)
	}
	return &p, nil
}

// SavePausedSession writes the snapshot atomically so a crash mid-pause
// never leaves a torn file.
func SavePausedSession(projectDir string, p *types.PausedSession) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal paused session: %w", err)
	}
	tmp := pausedPath(projectDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write paused session: %w", err)
	}
	return os.Rename(tmp, pausedPath(projectDir))
}

// RemovePausedSession deletes the marker; missing is fine.
func RemovePausedSession(projectDir string) error {
	if err := os.Remove(pausedPath(projectDir)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// pauseSession takes the PAUSE checkpoint and writes the resume snapshot.
func (s *Supervisor) pauseSession(ctx context.Context, id int64, hot *memory.Hot, reason string) error {
	cp, err := s.checkpoints.Create(ctx, id, types.TriggerPause, hot.PendingWork(), reason)
	if err != nil {
		logging.SupervisorError("pause checkpoint: %v", err)
	}

	focus, _ := hot.Focus()
	snapshot := &types.PausedSession{
		SessionID:      id,
		CurrentFeature: focus,
		ResumePrompt:   "Session was paused (" + reason + "). Pick up where this left off.\n\n" + hot.PromptContext(),
		PauseReason:    reason,
	}
	if cp != nil {
		snapshot.LastCheckpointID = cp.ID
	}
	if err := SavePausedSession(s.projectDir, snapshot); err != nil {
		return err
	}
	logging.Supervisor("session %d paused: %s", id, reason)
	return nil
}
