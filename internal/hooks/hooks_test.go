package hooks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/autonomy"
	"arcadiaforge/internal/checkpoint"
	"arcadiaforge/internal/config"
	"arcadiaforge/internal/human"
	"arcadiaforge/internal/memory"
	"arcadiaforge/internal/risk"
	"arcadiaforge/internal/security"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

type fakeExecutor struct {
	calls  []string
	result *Result
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, tool string, _ map[string]any) (*Result, error) {
	f.calls = append(f.calls, tool)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &Result{Output: "ok"}, nil
}

type fixture struct {
	pipeline *Pipeline
	st       *store.Store
	exec     *fakeExecutor
	dir      string
}

func newFixture(t *testing.T, level int) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	classifier, err := risk.New(st)
	require.NoError(t, err)

	am, err := autonomy.New(st, config.AutonomyConfig{
		Level: level, MinLevel: 1, MaxLevel: 5,
		ConfidenceThreshold: 0.5, ErrorDemotionCount: 3, SuccessPromotionCount: 10,
		AutoAdjust: true,
	})
	require.NoError(t, err)

	humanCfg := config.Default().Human
	humanCfg.DefaultTimeoutSeconds = 1
	humanCfg.PollMinMillis = 5
	humanCfg.PollMaxMillis = 20
	channel, err := human.NewChannel(dir, st, humanCfg)
	require.NoError(t, err)

	cm := checkpoint.New(dir, st, config.Default().Checkpoint, nil)
	ex := &fakeExecutor{}

	p := New(st, nil, security.New(nil), classifier, am, cm, channel, ex)
	p.SetSession(1)
	am.SetSession(1)
	channel.SetSession(1)
	return &fixture{pipeline: p, st: st, exec: ex, dir: dir}
}

func (f *fixture) initGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	cmd := exec.Command("git", "init")
	cmd.Dir = f.dir
	require.NoError(t, cmd.Run())
}

func (f *fixture) eventCount(t *testing.T, typ types.EventType) int {
	t.Helper()
	n, err := f.st.CountSessionEvents(1, typ)
	require.NoError(t, err)
	return n
}

func TestBlockedCommandStopsPipeline(t *testing.T) {
	f := newFixture(t, 3)

	out, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "run_shell",
		Input: map[string]any{"command": "rm -rf node_modules"},
	})
	require.Error(t, err)
	assert.True(t, out.Blocked)
	assert.Empty(t, f.exec.calls, "blocked call never reaches the executor")
	assert.Equal(t, 1, f.eventCount(t, types.EventToolBlocked))
}

func TestAllowedCallExecutesAndEmitsEvents(t *testing.T) {
	f := newFixture(t, 3)

	out, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "read_file",
		Input: map[string]any{"path": "src/main.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Result.Output)
	assert.Equal(t, []string{"read_file"}, f.exec.calls)
	assert.Equal(t, 1, f.eventCount(t, types.EventToolCall))
	assert.Equal(t, 1, f.eventCount(t, types.EventToolResult))
}

func TestAutonomyDenialEmitsDecision(t *testing.T) {
	f := newFixture(t, 1) // observe-only

	out, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "write_file",
		Input: map[string]any{"path": "a.txt", "content": "x"},
	})
	require.Error(t, err)
	assert.True(t, out.Denied)
	assert.Empty(t, f.exec.calls)
	assert.Equal(t, 1, f.eventCount(t, types.EventDecision))
}

func TestExecutorErrorEmitsToolError(t *testing.T) {
	f := newFixture(t, 3)
	f.exec.err = errors.New("file not found")

	_, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "read_file",
		Input: map[string]any{"path": "missing.txt"},
	})
	require.Error(t, err)
	assert.Equal(t, 1, f.eventCount(t, types.EventToolError))
	assert.Equal(t, 0, f.eventCount(t, types.EventToolResult))
}

func TestApprovalGrantedByHuman(t *testing.T) {
	f := newFixture(t, 3)

	go func() {
		for i := 0; i < 200; i++ {
			pending, err := f.st.PendingInjections()
			if err == nil && len(pending) > 0 {
				_ = human.Respond(f.dir, f.st, pending[0].ID, "Approve", "human")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	_, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "run_shell",
		Input: map[string]any{"command": "git push origin main"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_shell"}, f.exec.calls)
}

func TestApprovalTimeoutDefaultsToDeny(t *testing.T) {
	f := newFixture(t, 3)

	out, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "run_shell",
		Input: map[string]any{"command": "git push origin main"},
	})
	require.Error(t, err)
	assert.True(t, out.Denied)
	assert.Empty(t, f.exec.calls)
}

func TestRiskyCommandCheckpointsFirst(t *testing.T) {
	f := newFixture(t, 3)
	f.initGit(t)

	_, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "run_shell",
		Input: map[string]any{"command": "npm install express"},
	})
	require.NoError(t, err)

	cps, err := f.st.ListCheckpoints(10)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, types.TriggerBeforeRiskyOp, cps[0].Trigger)
}

func TestFeatureMarkPassingCheckpoints(t *testing.T) {
	f := newFixture(t, 4) // feature_modify needs the review level
	f.initGit(t)

	_, err := f.pipeline.Run(context.Background(), Call{
		Tool:         "feature_mark",
		Input:        map[string]any{"index": 3, "status": "passing"},
		FeatureIndex: 3,
	})
	require.NoError(t, err)

	cps, err := f.st.ListCheckpoints(10)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, types.TriggerFeatureComplete, cps[0].Trigger)
	assert.Contains(t, cps[0].Notes, "feature 3")
}

func TestFeatureMarkFailingDoesNotCheckpoint(t *testing.T) {
	f := newFixture(t, 4)

	_, err := f.pipeline.Run(context.Background(), Call{
		Tool:         "feature_mark",
		Input:        map[string]any{"index": 3, "status": "failing"},
		FeatureIndex: 3,
	})
	require.NoError(t, err)

	cps, err := f.st.ListCheckpoints(10)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestWorkingMemorySeesToolActivity(t *testing.T) {
	f := newFixture(t, 3)
	hot := memory.New(f.st, config.Default().Memory).StartSession(1)
	f.pipeline.SetHot(hot)
	f.exec.result = &Result{Output: "written", Files: []string{"src/app.js"}}

	_, err := f.pipeline.Run(context.Background(), Call{
		Tool:  "write_file",
		Input: map[string]any{"path": "src/app.js", "content": "x"},
	})
	require.NoError(t, err)
	assert.Contains(t, hot.RecentFiles(), "src/app.js")
	assert.Contains(t, hot.PromptContext(), "src/app.js")
}

func TestConsecutiveErrorsDemoteAutonomy(t *testing.T) {
	f := newFixture(t, 3)
	f.exec.err = fmt.Errorf("boom")

	for i := 0; i < 3; i++ {
		_, _ = f.pipeline.Run(context.Background(), Call{
			Tool:  "read_file",
			Input: map[string]any{"path": "x.txt"},
		})
	}

	// The third failure drops the persisted level one notch.
	state, err := f.st.LoadAutonomyState(3)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Level)
}

func TestRepeatedFeatureMarkCheckpointsOnce(t *testing.T) {
	f := newFixture(t, 4)
	f.initGit(t)

	require.NoError(t, f.st.CreateFeatures([]types.Feature{
		{Index: 3, Category: "functional", Description: "login", Priority: 1},
	}))

	call := Call{
		Tool:         "feature_mark",
		Input:        map[string]any{"index": 3, "status": "passing"},
		FeatureIndex: 3,
	}
	_, err := f.pipeline.Run(context.Background(), call)
	require.NoError(t, err)

	// Flip the row the way the real tool would have, then repeat the mark.
	id, err := f.st.SaveArtifact(&types.Artifact{
		SessionID: 1, Type: types.ArtifactScreenshot,
		Path: "verification/feature_3_login.png", Checksum: "cafe",
	})
	require.NoError(t, err)
	require.NoError(t, f.st.MarkFeaturePassing(3, []string{id}))

	_, err = f.pipeline.Run(context.Background(), call)
	require.NoError(t, err)

	cps, err := f.st.ListCheckpoints(10)
	require.NoError(t, err)
	complete := 0
	for _, cp := range cps {
		if cp.Trigger == types.TriggerFeatureComplete {
			complete++
		}
	}
	assert.Equal(t, 1, complete, "a repeated passing mark is a no-op, not a new milestone")
}
