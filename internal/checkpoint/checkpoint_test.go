package checkpoint

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default().Checkpoint
	m := New(dir, st, cfg, nil)
	require.NoError(t, m.EnsureRepo(context.Background()))
	return m, st, dir
}

func seedFeatures(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.CreateFeatures([]types.Feature{
		{Index: 1, Category: "functional", Description: "login form", Priority: 1},
		{Index: 2, Category: "functional", Description: "logout button", Priority: 2},
	}))
}

func TestCreateCheckpoint(t *testing.T) {
	m, st, dir := newTestManager(t)
	seedFeatures(t, st)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("v1"), 0o644))

	cp, err := m.Create(context.Background(), 1, types.TriggerSessionStart, nil, "")
	require.NoError(t, err)
	assert.Len(t, cp.CommitHash, 40)
	assert.Equal(t, 1, cp.Sequence)
	assert.Equal(t, map[int]bool{1: false, 2: false}, cp.Snapshot)

	// The commit really exists.
	head, err := m.CurrentCommit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cp.CommitHash, head)

	clean, err := m.IsClean(context.Background())
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestSequenceIncrementsPerTrigger(t *testing.T) {
	m, st, _ := newTestManager(t)
	seedFeatures(t, st)

	ctx := context.Background()
	cp1, err := m.Create(ctx, 1, types.TriggerFeatureComplete, nil, "")
	require.NoError(t, err)
	cp2, err := m.Create(ctx, 1, types.TriggerFeatureComplete, nil, "")
	require.NoError(t, err)

	assert.Equal(t, 1, cp1.Sequence)
	assert.Equal(t, 2, cp2.Sequence)
	assert.NotEqual(t, cp1.ID, cp2.ID)
}

func TestRollbackRestoresTreeAndFeatures(t *testing.T) {
	m, st, dir := newTestManager(t)
	seedFeatures(t, st)
	ctx := context.Background()

	path := filepath.Join(dir, "app.js")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	before, err := m.Create(ctx, 1, types.TriggerSessionStart, nil, "")
	require.NoError(t, err)

	// Work happens: the file changes and a feature passes with evidence.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	artifactID, err := st.SaveArtifact(&types.Artifact{
		SessionID: 1, Type: types.ArtifactScreenshot,
		Path: "verification/feature_1_login.png", Checksum: "abc123",
	})
	require.NoError(t, err)
	require.NoError(t, st.MarkFeaturePassing(1, []string{artifactID}))
	_, err = m.Create(ctx, 1, types.TriggerFeatureComplete, nil, "")
	require.NoError(t, err)

	res, err := m.Rollback(ctx, 1, before.ID)
	require.NoError(t, err)
	assert.Equal(t, before.CommitHash, res.CommitHash)
	assert.Equal(t, 2, res.FeaturesRestored)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))

	f, err := st.GetFeature(1)
	require.NoError(t, err)
	assert.False(t, f.Passes)
}

func TestRollbackEmitsCheckpointEvent(t *testing.T) {
	m, st, _ := newTestManager(t)
	seedFeatures(t, st)
	ctx := context.Background()

	cp, err := m.Create(ctx, 1, types.TriggerSessionStart, nil, "")
	require.NoError(t, err)
	_, err = m.Rollback(ctx, 1, cp.ID)
	require.NoError(t, err)

	n, err := st.CountSessionEvents(1, types.EventCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one for create, one for rollback")
}

func TestRecoveryCheckpointPrefersFeatureComplete(t *testing.T) {
	m, st, _ := newTestManager(t)
	seedFeatures(t, st)
	ctx := context.Background()

	_, err := m.Create(ctx, 1, types.TriggerSessionStart, nil, "")
	require.NoError(t, err)
	fc, err := m.Create(ctx, 1, types.TriggerFeatureComplete, nil, "")
	require.NoError(t, err)
	_, err = m.Create(ctx, 1, types.TriggerSessionEnd, nil, "")
	require.NoError(t, err)

	rec, err := m.RecoveryCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, fc.ID, rec.ID)
}

func TestPendingWorkSurvivesRoundTrip(t *testing.T) {
	m, st, _ := newTestManager(t)
	seedFeatures(t, st)

	cp, err := m.Create(context.Background(), 1, types.TriggerErrorRecovery,
		[]string{"retry feature 2 with smaller steps", "dev server still on port 3000"}, "crash in session 1")
	require.NoError(t, err)

	loaded, err := st.GetCheckpoint(cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.PendingWork, loaded.PendingWork)
	assert.Equal(t, "crash in session 1", loaded.Notes)
}
