package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	total, passing, err := s.CountFeatures()
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, passing)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	_, err = s1.CreateSession()
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	sess, err := s2.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.ID)
}

func TestSupervisorLock(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	defer s1.Close()
	require.NoError(t, s1.AcquireLock())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	assert.ErrorIs(t, s2.AcquireLock(), ErrSupervisorRunning)

	s1.ReleaseLock()
	assert.NoError(t, s2.AcquireLock())
}

func TestFeatureDependencyCycleRejected(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateFeatures([]types.Feature{
		{Index: 1, Category: types.CategoryFunctional, Description: "a", BlockedBy: []int{2}},
		{Index: 2, Category: types.CategoryFunctional, Description: "b", BlockedBy: []int{1}},
	})
	assert.ErrorIs(t, err, ErrDependencyCycle)

	// Nothing inserted on rejection.
	total, _, err := s.CountFeatures()
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestFeatureDependencyChainAccepted(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateFeatures([]types.Feature{
		{Index: 1, Category: types.CategoryFunctional, Description: "login form"},
		{Index: 2, Category: types.CategoryFunctional, Description: "login submit", BlockedBy: []int{1}},
		{Index: 3, Category: types.CategoryStyle, Description: "login styling", BlockedBy: []int{1, 2}},
	})
	require.NoError(t, err)

	features, err := s.ListFeatures()
	require.NoError(t, err)
	require.Len(t, features, 3)
	assert.ElementsMatch(t, []int{2, 3}, features[0].Blocks)
	assert.ElementsMatch(t, []int{3}, features[1].Blocks)
}

func TestMarkPassingRequiresEvidence(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFeatures([]types.Feature{
		{Index: 1, Category: types.CategoryFunctional, Description: "a"},
	}))

	assert.ErrorIs(t, s.MarkFeaturePassing(1, nil), ErrMissingEvidence)
	assert.ErrorIs(t, s.MarkFeaturePassing(1, []string{"no-such-artifact"}), ErrMissingEvidence)

	f, err := s.GetFeature(1)
	require.NoError(t, err)
	assert.False(t, f.Passes)
	assert.Equal(t, 0, f.FailureCount)
}

func TestMarkPassingWithEvidence(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFeatures([]types.Feature{
		{Index: 1, Category: types.CategoryFunctional, Description: "a"},
	}))

	sessID, err := s.CreateSession()
	require.NoError(t, err)

	artID, err := s.SaveArtifact(&types.Artifact{
		SessionID: sessID,
		Type:      types.ArtifactScreenshot,
		Path:      "verification/feature_1_login.png",
		Checksum:  "deadbeef",
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkFeaturePassing(1, []string{artID}))

	f, err := s.GetFeature(1)
	require.NoError(t, err)
	assert.True(t, f.Passes)
	assert.NotNil(t, f.VerifiedAt)
	assert.Equal(t, []string{artID}, f.VerificationArtifacts)
}

func TestMarkFailingClearsPassingBit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFeatures([]types.Feature{
		{Index: 1, Category: types.CategoryFunctional, Description: "a"},
	}))
	sessID, _ := s.CreateSession()
	artID, _ := s.SaveArtifact(&types.Artifact{SessionID: sessID, Type: types.ArtifactTestResult, Path: "x", Checksum: "c"})
	require.NoError(t, s.MarkFeaturePassing(1, []string{artID}))

	require.NoError(t, s.MarkFeatureFailing(1))
	f, err := s.GetFeature(1)
	require.NoError(t, err)
	assert.False(t, f.Passes)
	assert.Nil(t, f.VerifiedAt)
	// Evidence history stays on the row.
	assert.NotEmpty(t, f.VerificationArtifacts)
}

func TestRecordFeatureAttempt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFeatures([]types.Feature{
		{Index: 1, Category: types.CategoryFunctional, Description: "a"},
	}))

	require.NoError(t, s.RecordFeatureAttempt(1, false))
	require.NoError(t, s.RecordFeatureAttempt(1, false))
	require.NoError(t, s.RecordFeatureAttempt(1, true))

	f, err := s.GetFeature(1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.FailureCount)
	assert.NotNil(t, f.LastWorked)
}

func TestCheckpointIdempotence(t *testing.T) {
	s := newTestStore(t)
	sessID, err := s.CreateSession()
	require.NoError(t, err)

	cp := &types.Checkpoint{
		SessionID:  sessID,
		Trigger:    types.TriggerFeatureComplete,
		Sequence:   1,
		CommitHash: "abc123",
		Snapshot:   map[int]bool{1: true, 2: false},
	}
	id1, err := s.SaveCheckpoint(cp)
	require.NoError(t, err)
	id2, err := s.SaveCheckpoint(cp)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	cps, err := s.ListCheckpoints(10)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, map[int]bool{1: true, 2: false}, cps[0].Snapshot)

	seq, err := s.NextCheckpointSequence(sessID, types.TriggerFeatureComplete)
	require.NoError(t, err)
	assert.Equal(t, 2, seq)
}

func TestConsecutiveNoProgress(t *testing.T) {
	s := newTestStore(t)

	finish := func(status types.SessionStatus) {
		id, err := s.CreateSession()
		require.NoError(t, err)
		require.NoError(t, s.FinishSession(id, status, ""))
	}

	finish(types.SessionSuccess)
	finish(types.SessionNoProgress)
	finish(types.SessionCyclic)
	finish(types.SessionFailed)

	n, err := s.ConsecutiveNoProgress()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	finish(types.SessionSuccess)
	n, err = s.ConsecutiveNoProgress()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCrashedSessions(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateSession()
	require.NoError(t, err)

	crashed, err := s.CrashedSessions()
	require.NoError(t, err)
	require.Len(t, crashed, 1)
	assert.Equal(t, id, crashed[0].ID)

	require.NoError(t, s.FinishSession(id, types.SessionFailed, "recovered after crash"))
	crashed, err = s.CrashedSessions()
	require.NoError(t, err)
	assert.Empty(t, crashed)
}

func TestWarmSummaryEviction(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= 7; i++ {
		err := s.SaveSessionSummary(&types.SessionSummary{
			SessionID: int64(i),
			Status:    "success",
		}, 5)
		require.NoError(t, err)
	}

	sums, err := s.RecentSummaries(10)
	require.NoError(t, err)
	require.Len(t, sums, 5)
	assert.Equal(t, int64(7), sums[0].SessionID)
	assert.Equal(t, int64(3), sums[4].SessionID)
}

func TestSearchKnowledge(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveKnowledge(&types.ColdKnowledge{
		Topic:    "CORS errors on login",
		Content:  "fetch blocked by missing Access-Control-Allow-Origin",
		Keywords: []string{"cors", "login"},
		Solution: "add cors middleware",
	})
	require.NoError(t, err)
	_, err = s.SaveKnowledge(&types.ColdKnowledge{
		Topic:   "flaky websocket reconnect",
		Content: "socket drops under proxy",
	})
	require.NoError(t, err)

	hits, err := s.SearchKnowledge("cors login", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "add cors middleware", hits[0].Solution)

	none, err := s.SearchKnowledge("quantum", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInjectionLifecycle(t *testing.T) {
	s := newTestStore(t)
	sessID, _ := s.CreateSession()

	id, err := s.CreateInjection(&types.InjectionPoint{
		SessionID:        sessID,
		Type:             types.InjectionApproval,
		Context:          "delete migration files?",
		TimeoutSeconds:   60,
		DefaultOnTimeout: "no",
	})
	require.NoError(t, err)

	pending, err := s.PendingInjections()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.RespondInjection(id, "yes", "operator"))

	// Second resolution loses, whichever path it comes from.
	assert.ErrorIs(t, s.RespondInjection(id, "no", "other"), ErrNotFound)
	assert.ErrorIs(t, s.TimeoutInjection(id), ErrNotFound)

	inj, err := s.GetInjection(id)
	require.NoError(t, err)
	assert.Equal(t, types.InjectionResponded, inj.Status)
	assert.Equal(t, "yes", inj.Response)
	assert.NotNil(t, inj.RespondedAt)
}

func TestInjectionTimeoutAppliesDefault(t *testing.T) {
	s := newTestStore(t)
	sessID, _ := s.CreateSession()

	id, err := s.CreateInjection(&types.InjectionPoint{
		SessionID:        sessID,
		Type:             types.InjectionDecision,
		DefaultOnTimeout: "skip",
		TimeoutSeconds:   1,
	})
	require.NoError(t, err)
	require.NoError(t, s.TimeoutInjection(id))

	inj, err := s.GetInjection(id)
	require.NoError(t, err)
	assert.Equal(t, types.InjectionTimeout, inj.Status)
	assert.Equal(t, "skip", inj.Response)
}

func TestInterventionPatternAutoApplyThreshold(t *testing.T) {
	s := newTestStore(t)

	sig := "0123456789abcdef0123456789abcdef"

	p, err := s.UpsertInterventionPattern(sig, "retry with npm ci", true, 3, 0.8)
	require.NoError(t, err)
	assert.False(t, p.AutoApply)

	p, err = s.UpsertInterventionPattern(sig, "retry with npm ci", true, 3, 0.8)
	require.NoError(t, err)
	assert.False(t, p.AutoApply)

	p, err = s.UpsertInterventionPattern(sig, "retry with npm ci", true, 3, 0.8)
	require.NoError(t, err)
	assert.True(t, p.AutoApply)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)

	// A failure drags the rate below 0.8 and revokes auto-apply.
	p, err = s.UpsertInterventionPattern(sig, "retry with npm ci", false, 3, 0.8)
	require.NoError(t, err)
	assert.False(t, p.AutoApply)
	assert.InDelta(t, 0.75, p.Confidence, 1e-9)
}

func TestEventMirrorIdempotent(t *testing.T) {
	s := newTestStore(t)
	sessID, _ := s.CreateSession()

	ev := types.Event{
		EventID:   "evt-1",
		SessionID: sessID,
		Type:      types.EventToolCall,
		Payload:   map[string]any{"tool": "run_shell"},
	}
	require.NoError(t, s.RecordEvent(ev))
	require.NoError(t, s.RecordEvent(ev))

	n, err := s.CountSessionEvents(sessID, types.EventToolCall)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
