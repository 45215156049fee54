package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadiaforge/internal/types"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir)
	require.NoError(t, err)

	ev1, err := l.Append(types.Event{SessionID: 1, Type: types.EventSessionStart})
	require.NoError(t, err)
	ev2, err := l.Append(types.Event{
		SessionID: 1,
		Type:      types.EventToolCall,
		Payload:   map[string]any{"tool": "write_file", "path": "src/app.js"},
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.NotEmpty(t, ev1.EventID)
	assert.NotEqual(t, ev1.EventID, ev2.EventID)
	assert.False(t, ev1.Timestamp.IsZero())

	events, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, events, 2)
	if diff := cmp.Diff(ev2.Payload, events[1].Payload); diff != "" {
		t.Errorf("payload round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Append(types.Event{Type: types.EventError})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTornTailIsRecovered(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir)
	require.NoError(t, err)
	_, err = l.Append(types.Event{SessionID: 1, Type: types.EventSessionStart})
	require.NoError(t, err)
	_, err = l.Append(types.Event{SessionID: 1, Type: types.EventToolCall})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Simulate a crash mid-append.
	path := filepath.Join(dir, ".arcadia", ".events.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_id":"torn","ses`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Read tolerates the torn tail.
	events, err := Read(dir)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Reopening truncates it, and new appends land cleanly after.
	l2, err := Open(dir)
	require.NoError(t, err)
	_, err = l2.Append(types.Event{SessionID: 2, Type: types.EventSessionStart})
	require.NoError(t, err)
	require.NoError(t, l2.Close())

	events, err = Read(dir)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(2), events[2].SessionID)
}

func TestReadMissingFile(t *testing.T) {
	events, err := Read(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestSummarize(t *testing.T) {
	events := []types.Event{
		{Type: types.EventSessionStart},
		{Type: types.EventToolCall},
		{Type: types.EventToolCall},
		{Type: types.EventToolError},
		{Type: types.EventToolBlocked},
		{Type: types.EventCheckpoint},
		{Type: types.EventEscalation},
		{Type: types.EventSessionEnd},
	}
	m := Summarize(events)
	assert.Equal(t, 8, m.Total)
	assert.Equal(t, 2, m.ToolCalls)
	assert.Equal(t, 1, m.ToolErrors)
	assert.Equal(t, 1, m.ToolBlocked)
	assert.Equal(t, 1, m.Checkpoints)
	assert.Equal(t, 1, m.Escalations)
	assert.Equal(t, 1, m.Sessions)
	assert.Equal(t, 2, m.ByType[types.EventToolCall])
}
