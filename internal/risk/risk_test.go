package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/store"
)

func newClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(nil)
	require.NoError(t, err)
	return c
}

func TestReadsAreMinimal(t *testing.T) {
	c := newClassifier(t)

	a := c.Assess("read_file", map[string]any{"path": "src/app.js"})
	assert.Equal(t, Minimal, a.Level)
	assert.True(t, a.Reversible)
	assert.False(t, a.RequiresApproval)
	assert.False(t, a.RequiresCheckpoint)
}

func TestWritesAreModerate(t *testing.T) {
	c := newClassifier(t)

	a := c.Assess("write_file", map[string]any{"path": "src/app.js", "content": "..."})
	assert.Equal(t, Moderate, a.Level)
	assert.True(t, a.RequiresCheckpoint)
	assert.False(t, a.RequiresApproval)
	assert.True(t, a.SourceOfTruth)
}

func TestGitForcePushIsCritical(t *testing.T) {
	c := newClassifier(t)

	a := c.Assess("run_shell", map[string]any{"command": "git push --force origin main"})
	assert.Equal(t, Critical, a.Level)
	assert.False(t, a.Reversible)
	assert.True(t, a.RequiresApproval)
	assert.True(t, a.RequiresReview)
	// Both the push and force-push patterns match; highest level wins.
	assert.GreaterOrEqual(t, len(a.Concerns), 2)
}

func TestEnvFileWriteRequiresApproval(t *testing.T) {
	c := newClassifier(t)

	a := c.Assess("write_file", map[string]any{"path": ".env.production"})
	assert.Equal(t, High, a.Level)
	assert.True(t, a.RequiresApproval)
	assert.True(t, a.SourceOfTruth)
}

func TestStateDatabaseWriteMitigation(t *testing.T) {
	c := newClassifier(t)

	a := c.Assess("write_file", map[string]any{"path": ".arcadia/project.db"})
	assert.Equal(t, High, a.Level)
	assert.Contains(t, a.Mitigation, "feature tools")
}

func TestUnknownToolDefaultsModerate(t *testing.T) {
	c := newClassifier(t)

	a := c.Assess("mystery_tool", nil)
	assert.Equal(t, Moderate, a.Level)
	assert.True(t, a.RequiresCheckpoint)
}

func TestPackageInstallRequiresCheckpoint(t *testing.T) {
	c := newClassifier(t)

	a := c.Assess("run_shell", map[string]any{"command": "npm install express"})
	assert.Equal(t, Moderate, a.Level)
	assert.True(t, a.RequiresCheckpoint)
	assert.True(t, a.External)
}

func TestCustomPersistedPattern(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AddRiskPattern(`terraform\s+apply`, "CRITICAL", "infrastructure mutation"))

	c, err := New(st)
	require.NoError(t, err)

	a := c.Assess("run_shell", map[string]any{"command": "terraform apply -auto-approve"})
	assert.Equal(t, Critical, a.Level)
	assert.True(t, a.RequiresApproval)
	assert.Contains(t, a.Concerns, "infrastructure mutation")
}

func TestAssessmentsAreLogged(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	c, err := New(st)
	require.NoError(t, err)
	c.SetSession(7)

	c.Assess("run_shell", map[string]any{"command": "git push origin main"})

	recs, err := st.RecentRiskAssessments(5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(7), recs[0].SessionID)
	assert.Equal(t, "HIGH", recs[0].Level)
	assert.Equal(t, "git_push", recs[0].MatchedPattern)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Critical, ParseLevel("critical"))
	assert.Equal(t, Minimal, ParseLevel("MINIMAL"))
	assert.Equal(t, Moderate, ParseLevel("unheard-of"))
}

func TestHighRiskPatternsAlwaysCheckpoint(t *testing.T) {
	c := newClassifier(t)

	// Patterns that do not set the checkpoint flag themselves still get
	// one from the aggregate rule: level >= HIGH or source of truth.
	push := c.Assess("run_shell", map[string]any{"command": "git push origin main"})
	assert.Equal(t, High, push.Level)
	assert.True(t, push.RequiresCheckpoint)

	env := c.Assess("write_file", map[string]any{"path": "app/.env"})
	assert.True(t, env.SourceOfTruth)
	assert.True(t, env.RequiresCheckpoint)

	truncate := c.Assess("run_shell", map[string]any{"command": "psql -c 'TRUNCATE TABLE users'"})
	assert.GreaterOrEqual(t, truncate.Level, High)
	assert.True(t, truncate.RequiresCheckpoint)
}
