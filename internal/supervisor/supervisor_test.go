package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/runtime"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

func TestMain(m *testing.M) {
	// opencensus (pulled in by the genai client) starts a worker in its
	// package init that never exits; it is not ours to stop.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const testSpec = `# demo application
Login page works [p1]
- open /login
- submit the form

Logout button [p2]
- click logout
`

func writeSpec(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SpecFileName), []byte(testSpec), 0o644))
}

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.Default()
	cfg.Supervisor.MaxSessions = 1
	cfg.Supervisor.CooldownSeconds = 0
	cfg.Supervisor.WatchdogIntervalSeconds = 1
	cfg.Supervisor.StallTimeoutSeconds = 600
	cfg.Autonomy.Level = 5
	cfg.Human.DefaultTimeoutSeconds = 1
	cfg.Human.PollMinMillis = 5
	cfg.Human.PollMaxMillis = 20
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func openAt(t *testing.T, dir string, rt runtime.Runtime, mutate func(*config.Config)) *Supervisor {
	t.Helper()
	sup, err := Open(dir, testConfig(mutate), rt)
	require.NoError(t, err)
	t.Cleanup(func() { sup.Close() })
	return sup
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestFreshInitFirstSession(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	script := &runtime.Scripted{Steps: []runtime.Step{{Message: "surveying the project"}}}
	sup := openAt(t, dir, script, nil)

	code, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	total, passing, err := sup.Store().CountFeatures()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 0, passing)

	starts, err := sup.Store().CountSessionEvents(1, types.EventSessionStart)
	require.NoError(t, err)
	ends, err := sup.Store().CountSessionEvents(1, types.EventSessionEnd)
	require.NoError(t, err)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)

	sess, err := sup.Store().GetSession(1)
	require.NoError(t, err)
	assert.Equal(t, types.SessionNoProgress, sess.Status)
	assert.NotNil(t, sess.EndTime)
}

func TestRunWithoutSpecIsConfigError(t *testing.T) {
	requireGit(t)
	sup := openAt(t, t.TempDir(), &runtime.Scripted{}, nil)

	code, err := sup.Run(context.Background())
	assert.Equal(t, ExitConfig, code)
	assert.ErrorIs(t, err, ErrNoSpec)
}

func TestMarkWithoutEvidence(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	script := &runtime.Scripted{Steps: []runtime.Step{
		{Call: &runtime.ToolCall{Name: "feature_mark", Args: map[string]any{
			"index": float64(1), "status": "passing",
		}}},
	}}
	sup := openAt(t, dir, script, nil)

	_, err := sup.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, script.Results, 1)
	assert.True(t, script.Results[0].IsError)
	assert.Contains(t, script.Results[0].Content, "missing verification evidence")

	f, err := sup.Store().GetFeature(1)
	require.NoError(t, err)
	assert.False(t, f.Passes)

	errs, err := sup.Store().CountSessionEvents(1, types.EventToolError)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, errs, 1)
}

func TestMarkWithEvidenceCheckpointAndWarm(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	script := &runtime.Scripted{}
	sup := openAt(t, dir, script, nil)

	artifactID, err := sup.Store().SaveArtifact(&types.Artifact{
		SessionID: 1,
		Type:      types.ArtifactScreenshot,
		Path:      "verification/feature_1_login.png",
		Checksum:  "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
	})
	require.NoError(t, err)

	script.Steps = []runtime.Step{
		{Call: &runtime.ToolCall{Name: "feature_mark", Args: map[string]any{
			"index": float64(1), "status": "passing", "artifacts": []any{artifactID},
		}}},
	}

	code, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	f, err := sup.Store().GetFeature(1)
	require.NoError(t, err)
	assert.True(t, f.Passes)
	assert.Equal(t, []string{artifactID}, f.VerificationArtifacts)

	cps, err := sup.Store().ListCheckpoints(50)
	require.NoError(t, err)
	var complete *types.Checkpoint
	for i := range cps {
		if cps[i].Trigger == types.TriggerFeatureComplete {
			complete = &cps[i]
		}
	}
	require.NotNil(t, complete, "expected a FEATURE_COMPLETE checkpoint")
	assert.True(t, complete.Snapshot[1])

	sums, err := sup.Store().RecentSummaries(1)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Contains(t, sums[0].TestsCompleted, 1)

	sess, err := sup.Store().GetSession(1)
	require.NoError(t, err)
	assert.Equal(t, types.SessionSuccess, sess.Status)
}

func TestCyclicDetectionOpensGuidance(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	failing := &runtime.ToolCall{Name: "read_file", Args: map[string]any{"path": "does/not/exist.txt"}}
	script := &runtime.Scripted{Steps: []runtime.Step{
		{Call: failing}, {Call: failing}, {Call: failing}, {Call: failing},
	}}
	sup := openAt(t, dir, script, nil)

	code, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	sess, err := sup.Store().GetSession(1)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCyclic, sess.Status)

	pending, err := sup.Store().PendingInjections()
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	assert.Equal(t, types.InjectionGuidance, pending[0].Type)

	report, err := sup.Store().FailureReportForSession(1)
	require.NoError(t, err)
	assert.Equal(t, "cyclic_error", report.FailureType)
}

func TestPauseThenResumeKeepsSessionID(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	sup := openAt(t, dir, &runtime.Scripted{Steps: []runtime.Step{{Message: "about to work"}}}, nil)
	sup.RequestPause("SIGINT")
	code, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitPaused, code)
	require.NoError(t, sup.Close())

	paused, err := LoadPausedSession(dir)
	require.NoError(t, err)
	require.NotNil(t, paused)
	assert.Equal(t, int64(1), paused.SessionID)
	assert.Equal(t, 1, paused.CurrentFeature)
	assert.NotEmpty(t, paused.ResumePrompt)

	resumeScript := &runtime.Scripted{Steps: []runtime.Step{
		{Call: &runtime.ToolCall{Name: "read_file", Args: map[string]any{"path": SpecFileName}}},
	}}
	sup2 := openAt(t, dir, resumeScript, nil)
	code, err = sup2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	gone, err := LoadPausedSession(dir)
	require.NoError(t, err)
	assert.Nil(t, gone, "paused file must be consumed on resume")

	calls, err := sup2.Store().CountSessionEvents(1, types.EventToolCall)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 1, "resumed tool call lands in the original session's stream")

	sessions, err := sup2.Store().ListSessions(10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "resume reuses the paused session row")
}

func TestBudgetCutoff(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	call := &runtime.ToolCall{Name: "list_files", Args: map[string]any{"path": "."}}
	script := &runtime.Scripted{
		Steps:        []runtime.Step{{Call: call}, {Call: call}, {Call: call}},
		UsagePerStep: runtime.Usage{InputTokens: 300_000, OutputTokens: 50_000},
	}
	sup := openAt(t, dir, script, func(cfg *config.Config) {
		cfg.Budget.MaxBudgetUSD = 1.00
		cfg.Budget.InputCostPer1K = 0.003
		cfg.Budget.OutputCostPer1K = 0.015
	})

	code, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitBudget, code)

	sess, err := sup.Store().GetSession(1)
	require.NoError(t, err)
	assert.Equal(t, types.SessionBudgetExceeded, sess.Status)
	assert.Less(t, len(script.Results), 3, "run stops at the next safe point, not after the full script")
}

func TestCrashRecoveryMarksSessionFailed(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	st, err := store.Open(dir)
	require.NoError(t, err)
	_, err = st.CreateSession()
	require.NoError(t, err)
	require.NoError(t, st.Close())

	sup := openAt(t, dir, &runtime.Scripted{}, nil)
	code, err := sup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	crashed, err := sup.Store().GetSession(1)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailed, crashed.Status)
	assert.NotNil(t, crashed.EndTime)

	ends, err := sup.Store().CountSessionEvents(1, types.EventSessionEnd)
	require.NoError(t, err)
	assert.Equal(t, 1, ends, "synthetic SESSION_END written during recovery")

	next, err := sup.Store().GetSession(2)
	require.NoError(t, err)
	assert.NotEqual(t, types.SessionRunning, next.Status)
}

func TestSecondSupervisorRefused(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	writeSpec(t, dir)

	sup := openAt(t, dir, &runtime.Scripted{}, nil)
	_ = sup

	_, err := Open(dir, testConfig(nil), &runtime.Scripted{})
	assert.ErrorIs(t, err, store.ErrSupervisorRunning)
}
