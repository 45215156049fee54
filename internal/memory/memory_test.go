package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, config.Default().Memory), st
}

func TestHotWorkingContext(t *testing.T) {
	m, _ := newTestManager(t)
	hot := m.StartSession(1)

	hot.SetFocus(3, "wire up the login form", []string{"login", "auth"})
	hot.AddAction("write_file", "write_file src/login.js", "ok")
	hot.AddFile("src/login.js")
	hot.AddFile("src/app.js")
	hot.AddFile("src/login.js") // re-access moves it to the front

	feature, task := hot.Focus()
	assert.Equal(t, 3, feature)
	assert.Equal(t, "wire up the login form", task)
	assert.Equal(t, []string{"src/login.js", "src/app.js"}, hot.RecentFiles())

	ctx := hot.PromptContext()
	assert.Contains(t, ctx, "feature 3")
	assert.Contains(t, ctx, "src/login.js")
}

func TestHotErrorLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	hot := m.StartSession(1)

	id := hot.AddError("TypeError: foo is undefined", "src/login.js:42")
	assert.True(t, hot.RecordFixAttempt(id, "added null check"))
	require.Len(t, hot.ActiveErrors(), 1)

	assert.True(t, hot.ResolveError(id, "initialized foo before use"))
	assert.Empty(t, hot.ActiveErrors())
	require.Len(t, hot.ResolvedErrors(), 1)

	// A resolved error cannot be re-resolved.
	assert.False(t, hot.ResolveError(id, "again"))
}

func TestHotActionWindowIsBounded(t *testing.T) {
	m, _ := newTestManager(t)
	hot := m.StartSession(1)

	for i := 0; i < 30; i++ {
		hot.AddAction("run_shell", fmt.Sprintf("run %d", i), "ok")
	}
	assert.LessOrEqual(t, len(hot.recentActions), maxRecentActions)
	assert.Equal(t, "run 29", hot.recentActions[len(hot.recentActions)-1].Action)
}

func TestEndSessionDemotesHotToWarm(t *testing.T) {
	m, st := newTestManager(t)
	hot := m.StartSession(1)
	hot.SetFocus(2, "fix pagination", nil)
	hot.AddError("page 2 renders empty", "src/list.js")

	err := m.EndSession(&types.SessionSummary{
		SessionID:    1,
		Accomplished: []string{"implemented pagination controls"},
		Status:       "in progress",
	})
	require.NoError(t, err)
	assert.Nil(t, m.Hot())

	summaries, err := st.RecentSummaries(5)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0].IssuesFound, "page 2 renders empty")
	assert.Contains(t, summaries[0].NextSteps, "working on feature 2: fix pagination")

	// The unresolved error is carried forward as a warm issue.
	issues, err := st.OpenIssues()
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "page 2 renders empty", issues[0].Description)
}

func TestWarmOverflowEvictsToCold(t *testing.T) {
	m, st := newTestManager(t)

	for i := 1; i <= 7; i++ {
		m.StartSession(int64(i))
		err := m.EndSession(&types.SessionSummary{
			SessionID:    int64(i),
			Status:       "success",
			Accomplished: []string{fmt.Sprintf("finished feature %d", i)},
		})
		require.NoError(t, err)
	}

	summaries, err := st.RecentSummaries(10)
	require.NoError(t, err)
	assert.Len(t, summaries, 5, "warm keeps only the newest five")

	// The evicted sessions landed in cold knowledge.
	hits, err := st.SearchKnowledge("session summary", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Signature, summarySignature)
}

func TestContinuityContext(t *testing.T) {
	m, st := newTestManager(t)

	m.StartSession(1)
	require.NoError(t, m.EndSession(&types.SessionSummary{
		SessionID:    1,
		Status:       "in progress",
		Accomplished: []string{"set up project scaffolding"},
		NextSteps:    []string{"start on the login form"},
	}))
	require.NoError(t, m.LearnPattern("testing", "run vitest with --run to avoid watch mode"))
	_, err := st.SaveUnresolvedIssue(&types.UnresolvedIssue{Description: "flaky dev server startup", Severity: 2})
	require.NoError(t, err)

	ctx, err := m.ContinuityContext()
	require.NoError(t, err)
	assert.Contains(t, ctx, "Previous Session (1)")
	assert.Contains(t, ctx, "set up project scaffolding")
	assert.Contains(t, ctx, "start on the login form")
	assert.Contains(t, ctx, "flaky dev server startup")
	assert.Contains(t, ctx, "vitest")
}

func TestFindSolutions(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.LearnPattern("build", "clear the vite cache when hot reload stalls"))
	require.NoError(t, m.AddKnowledge(&types.ColdKnowledge{
		Topic:    "vite cache corruption",
		Content:  "delete node_modules/.vite and restart the dev server",
		Keywords: []string{"vite", "cache"},
	}))

	hits, err := m.FindSolutions("vite cache")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "pattern", hits[0].Source)
	assert.Equal(t, "knowledge", hits[1].Source)
}

func TestCompactFoldsOldSummaries(t *testing.T) {
	m, st := newTestManager(t)

	old := time.Now().UTC().AddDate(0, 0, -30)
	for i := 1; i <= 3; i++ {
		_, err := st.SaveKnowledge(&types.ColdKnowledge{
			Topic:     fmt.Sprintf("session %d summary", i),
			Content:   "status: success",
			Signature: summarySignature,
			CreatedAt: old,
		})
		require.NoError(t, err)
	}

	require.NoError(t, m.Compact(time.Now().UTC()))

	remaining, err := st.KnowledgeOlderThan(time.Now().UTC().Add(time.Hour), summarySignature)
	require.NoError(t, err)
	assert.Empty(t, remaining, "originals are deleted")

	digests, err := st.SearchKnowledge("digest archived sessions", 5)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	assert.Contains(t, digests[0].Topic, "3 archived sessions")
}
