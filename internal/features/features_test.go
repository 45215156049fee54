package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func saveEvidence(t *testing.T, st *store.Store) string {
	t.Helper()
	id, err := st.SaveArtifact(&types.Artifact{
		SessionID: 1, Type: types.ArtifactScreenshot,
		Path: "verification/shot.png", Checksum: "deadbeef",
	})
	require.NoError(t, err)
	return id
}

func TestSalienceBaseline(t *testing.T) {
	f := &types.Feature{Index: 1, Priority: 1}
	assert.InDelta(t, 0.40, Salience(f, Context{}), 1e-9)

	f.Priority = 4
	assert.InDelta(t, 0.10, Salience(f, Context{}), 1e-9)
}

func TestSalienceFailurePenaltyCaps(t *testing.T) {
	f := &types.Feature{Index: 1, Priority: 1, FailureCount: 2}
	assert.InDelta(t, 0.20, Salience(f, Context{}), 1e-9)

	// The penalty stops growing at three failures.
	f.FailureCount = 3
	three := Salience(f, Context{})
	f.FailureCount = 9
	assert.InDelta(t, three, Salience(f, Context{}), 1e-9)
}

func TestSalienceUnblockBonus(t *testing.T) {
	f := &types.Feature{Index: 1, Priority: 2, Blocks: []int{4, 5, 6}}
	assert.InDelta(t, 0.45, Salience(f, Context{}), 1e-9)
}

func TestSalienceStalenessDecayCaps(t *testing.T) {
	twoDays := time.Now().UTC().Add(-48 * time.Hour)
	f := &types.Feature{Index: 1, Priority: 1, LastWorked: &twoDays}
	assert.InDelta(t, 0.36, Salience(f, Context{}), 1e-3)

	// Decay is capped at five days.
	ancient := time.Now().UTC().Add(-60 * 24 * time.Hour)
	f.LastWorked = &ancient
	assert.InDelta(t, 0.30, Salience(f, Context{}), 1e-9)
}

func TestSalienceContextBoost(t *testing.T) {
	f := &types.Feature{Index: 7, Priority: 3}
	ctx := Context{RelatedFeatures: []int{2, 7}}
	assert.InDelta(t, 0.40, Salience(f, ctx), 1e-9)
}

func TestSalienceClampedToUnitInterval(t *testing.T) {
	f := &types.Feature{Index: 1, Priority: 1, Blocks: []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}}
	assert.Equal(t, 1.0, Salience(f, Context{RelatedFeatures: []int{1}}))

	f = &types.Feature{Index: 1, Priority: 4, FailureCount: 3}
	assert.Equal(t, 0.0, Salience(f, Context{}))
}

func TestNextBySalienceOrdering(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "low priority", Priority: 4},
		{Index: 2, Category: "functional", Description: "critical", Priority: 1},
		{Index: 3, Category: "functional", Description: "medium", Priority: 3},
	}))

	next, err := r.NextBySalience(Context{})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Feature.Index)
	assert.False(t, next.Blocked)
}

func TestNextBySalienceTieBreaksOnLowerIndex(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 5, Category: "functional", Description: "b", Priority: 2},
		{Index: 3, Category: "functional", Description: "a", Priority: 2},
	}))

	next, err := r.NextBySalience(Context{})
	require.NoError(t, err)
	assert.Equal(t, 3, next.Feature.Index)
}

func TestNextBySalienceSkipsBlocked(t *testing.T) {
	r, st := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "base", Priority: 2},
		{Index: 2, Category: "functional", Description: "depends on 1", Priority: 1, BlockedBy: []int{1}},
	}))

	// Feature 2 scores higher but is blocked by the failing feature 1.
	next, err := r.NextBySalience(Context{SkipBlocked: true})
	require.NoError(t, err)
	assert.Equal(t, 1, next.Feature.Index)

	// Once the blocker passes, feature 2 becomes workable.
	id := saveEvidence(t, st)
	require.NoError(t, r.MarkPassing(1, []string{id}))
	next, err = r.NextBySalience(Context{SkipBlocked: true})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Feature.Index)
}

func TestNextBySalienceSurfacesBlockedWhenNothingWorkable(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "base", Priority: 2},
		{Index: 2, Category: "functional", Description: "depends on 1", Priority: 1, BlockedBy: []int{1}},
	}))
	require.NoError(t, r.Skip(1, "needs credentials"))

	// Feature 1 is still workable (skipped means deprioritized, not
	// blocked), so it is returned ahead of the blocked feature 2.
	next, err := r.NextBySalience(Context{SkipBlocked: false})
	require.NoError(t, err)
	assert.Equal(t, 1, next.Feature.Index)
}

func TestMarkPassingRequiresEvidence(t *testing.T) {
	r, st := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "needs proof", Priority: 1},
	}))

	err := r.MarkPassing(1, nil)
	assert.ErrorIs(t, err, store.ErrMissingEvidence)

	id := saveEvidence(t, st)
	require.NoError(t, r.MarkPassing(1, []string{id}))

	f, err := r.Get(1)
	require.NoError(t, err)
	assert.True(t, f.Passes)
	assert.NotNil(t, f.LastWorked)
}

func TestMarkPassingVerificationExempt(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "style", Description: "consistent spacing", Priority: 4, SkipVerification: true},
	}))

	require.NoError(t, r.MarkPassing(1, nil))
	f, err := r.Get(1)
	require.NoError(t, err)
	assert.True(t, f.Passes)
}

func TestMarkFailingCountsAttempt(t *testing.T) {
	r, st := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "flaky", Priority: 1},
	}))
	id := saveEvidence(t, st)
	require.NoError(t, r.MarkPassing(1, []string{id}))

	require.NoError(t, r.MarkFailing(1))
	f, err := r.Get(1)
	require.NoError(t, err)
	assert.False(t, f.Passes)
	assert.Equal(t, 1, f.FailureCount)
}

func TestRegressions(t *testing.T) {
	r, st := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "a", Priority: 1},
		{Index: 2, Category: "functional", Description: "b", Priority: 1},
	}))
	id := saveEvidence(t, st)
	require.NoError(t, r.MarkPassing(1, []string{id}))
	require.NoError(t, r.MarkPassing(2, []string{id}))

	snapshot, err := st.PassingStatus()
	require.NoError(t, err)

	require.NoError(t, r.MarkFailing(2))
	regressed, err := r.Regressions(snapshot)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, regressed)
}

func TestProgress(t *testing.T) {
	r, st := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "a", Priority: 1},
		{Index: 2, Category: "functional", Description: "b", Priority: 2},
	}))
	id := saveEvidence(t, st)
	require.NoError(t, r.MarkPassing(1, []string{id}))

	passing, total, err := r.Progress()
	require.NoError(t, err)
	assert.Equal(t, 1, passing)
	assert.Equal(t, 2, total)
}

func TestMarkPassingTwiceIsNoOp(t *testing.T) {
	r, st := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "done once", Priority: 1},
	}))
	id := saveEvidence(t, st)
	require.NoError(t, r.MarkPassing(1, []string{id}))

	before, err := r.Get(1)
	require.NoError(t, err)

	err = r.MarkPassing(1, []string{id})
	assert.ErrorIs(t, err, ErrAlreadyPassing)

	after, err := r.Get(1)
	require.NoError(t, err)
	assert.True(t, after.Passes)
	assert.Equal(t, before.VerifiedAt, after.VerifiedAt, "verification stamp untouched by the repeat")
	assert.Equal(t, before.VerificationArtifacts, after.VerificationArtifacts)
}

func TestMarkPassingRefusedWhileBlocked(t *testing.T) {
	r, st := newTestRegistry(t)
	require.NoError(t, r.Create([]types.Feature{
		{Index: 1, Category: "functional", Description: "login", Priority: 1},
		{Index: 2, Category: "functional", Description: "logout", Priority: 2, BlockedBy: []int{1}},
	}))
	id := saveEvidence(t, st)

	err := r.MarkPassing(2, []string{id})
	assert.ErrorIs(t, err, ErrBlocked)

	f, err := r.Get(2)
	require.NoError(t, err)
	assert.False(t, f.Passes)

	// Once the blocker passes, the mark goes through.
	require.NoError(t, r.MarkPassing(1, []string{id}))
	require.NoError(t, r.MarkPassing(2, []string{id}))
}
