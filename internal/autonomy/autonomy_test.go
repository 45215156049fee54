package autonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/store"
)

func testConfig() config.AutonomyConfig {
	return config.AutonomyConfig{
		Level:                 3,
		MinLevel:              1,
		MaxLevel:              5,
		ConfidenceThreshold:   0.5,
		ErrorDemotionCount:    3,
		SuccessPromotionCount: 10,
		AutoAdjust:            true,
	}
}

func newManager(t *testing.T, cfg config.AutonomyConfig) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := New(st, cfg)
	require.NoError(t, err)
	return m, st
}

func TestReadsAllowedAtObserve(t *testing.T) {
	cfg := testConfig()
	cfg.Level = 1
	m, _ := newManager(t, cfg)

	d := m.CheckAction("read_file", map[string]any{"path": "src/app.js"}, 1.0)
	assert.True(t, d.Allowed)
	assert.Equal(t, Observe, d.RequiredLevel)

	d = m.CheckAction("write_file", map[string]any{"path": "src/app.js"}, 1.0)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.NotEmpty(t, d.Alternatives)
}

func TestWritesAllowedAtExecuteSafe(t *testing.T) {
	m, _ := newManager(t, testConfig())

	assert.True(t, m.CheckAction("write_file", map[string]any{"path": "a.txt"}, 1.0).Allowed)
	assert.True(t, m.CheckAction("run_shell", map[string]any{"command": "npm test"}, 1.0).Allowed)
}

func TestFeatureModifyNeedsReviewLevel(t *testing.T) {
	m, _ := newManager(t, testConfig())

	d := m.CheckAction("feature_mark", map[string]any{"index": 4}, 1.0)
	assert.False(t, d.Allowed)
	assert.Equal(t, ExecuteReview, d.RequiredLevel)
	assert.True(t, d.RequiresCheckpoint)

	require.NoError(t, m.SetLevel(ExecuteReview, "test"))
	assert.True(t, m.CheckAction("feature_mark", map[string]any{"index": 4}, 1.0).Allowed)
}

func TestUnknownToolTreatedAsExecute(t *testing.T) {
	m, _ := newManager(t, testConfig())

	d := m.CheckAction("mystery_tool", nil, 1.0)
	assert.Equal(t, CategoryExecute, d.Category)
	assert.Equal(t, ExecuteSafe, d.RequiredLevel)
	assert.True(t, d.Allowed)
}

func TestLowConfidenceReducesEffectiveLevel(t *testing.T) {
	m, _ := newManager(t, testConfig())

	// At the threshold nothing changes.
	assert.Equal(t, ExecuteSafe, m.EffectiveLevel(0.5))

	// Just under the threshold drops one level.
	assert.Equal(t, Plan, m.EffectiveLevel(0.49))

	// Under 0.3 drops two.
	assert.Equal(t, Observe, m.EffectiveLevel(0.29))

	// Writes are blocked while confidence is low.
	d := m.CheckAction("write_file", map[string]any{"path": "a.txt"}, 0.4)
	assert.False(t, d.Allowed)
	assert.Equal(t, Plan, d.EffectiveLevel)
}

func TestConfidenceReductionRespectsMinLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Level = 2
	cfg.MinLevel = 2
	m, _ := newManager(t, cfg)

	assert.Equal(t, Plan, m.EffectiveLevel(0.1))
}

func TestDemotionAfterConsecutiveErrors(t *testing.T) {
	m, _ := newManager(t, testConfig())

	_, changed := m.RecordOutcome(false)
	assert.False(t, changed)
	_, changed = m.RecordOutcome(false)
	assert.False(t, changed)

	// Third consecutive error crosses the threshold.
	level, changed := m.RecordOutcome(false)
	assert.True(t, changed)
	assert.Equal(t, Plan, level)
}

func TestSuccessResetsErrorStreak(t *testing.T) {
	m, _ := newManager(t, testConfig())

	m.RecordOutcome(false)
	m.RecordOutcome(false)
	m.RecordOutcome(true)
	_, changed := m.RecordOutcome(false)
	assert.False(t, changed)
	assert.Equal(t, ExecuteSafe, m.Level())
}

func TestPromotionAfterSustainedSuccess(t *testing.T) {
	m, _ := newManager(t, testConfig())

	for i := 0; i < 9; i++ {
		_, changed := m.RecordOutcome(true)
		assert.False(t, changed, "no promotion before the 10th success")
	}

	level, changed := m.RecordOutcome(true)
	assert.True(t, changed)
	assert.Equal(t, ExecuteReview, level)

	// The streak counter resets, so the next promotion needs ten more.
	assert.Equal(t, 0, m.Status().ConsecutiveSuccesses)
}

func TestPromotionClampedAtMaxLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Level = 4
	cfg.MaxLevel = 4
	m, _ := newManager(t, cfg)

	for i := 0; i < 10; i++ {
		m.RecordOutcome(true)
	}
	assert.Equal(t, ExecuteReview, m.Level())
}

func TestDemotionClampedAtMinLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Level = 1
	m, _ := newManager(t, cfg)

	for i := 0; i < 5; i++ {
		m.RecordOutcome(false)
	}
	assert.Equal(t, Observe, m.Level())
}

func TestLevelPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)

	m, err := New(st, testConfig())
	require.NoError(t, err)
	require.NoError(t, m.SetLevel(ExecuteReview, "manual"))
	require.NoError(t, st.Close())

	st2, err := store.Open(dir)
	require.NoError(t, err)
	defer st2.Close()

	m2, err := New(st2, testConfig())
	require.NoError(t, err)
	assert.Equal(t, ExecuteReview, m2.Level())
}

func TestTemporaryElevationExpires(t *testing.T) {
	m, _ := newManager(t, testConfig())

	req := m.RequestElevation(ExecuteReview, "mark completed feature", 1)
	assert.True(t, req.RequiresApproval)
	m.GrantElevation(req)

	// The granted elevation covers exactly one action.
	assert.True(t, m.CheckAction("feature_mark", map[string]any{"index": 1}, 1.0).Allowed)
	assert.False(t, m.CheckAction("feature_mark", map[string]any{"index": 2}, 1.0).Allowed)
}

func TestDecisionsAreLogged(t *testing.T) {
	m, st := newManager(t, testConfig())
	m.SetSession(3)

	m.CheckAction("run_shell", map[string]any{"command": "npm test"}, 0.9)

	recs, err := st.RecentAutonomyDecisions(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(3), recs[0].SessionID)
	assert.Equal(t, "execute", recs[0].Category)
	assert.True(t, recs[0].Allowed)
}

func TestRequiredLevelOverride(t *testing.T) {
	m, _ := newManager(t, testConfig())

	m.SetRequiredLevel("run_shell", FullAuto)
	d := m.CheckAction("run_shell", map[string]any{"command": "npm test"}, 1.0)
	assert.False(t, d.Allowed)
	assert.Equal(t, FullAuto, d.RequiredLevel)
}
