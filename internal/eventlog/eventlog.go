// Package eventlog implements the append-only observability timeline at
// .arcadia/.events.jsonl. One JSON object per line; records are never
// rewritten. A torn final line (crash mid-write) is tolerated on read and
// truncated away on the next open so the file stays parseable.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// ErrClosed is returned when appending to a closed log.
var ErrClosed = errors.New("eventlog: closed")

// Log is an append-only JSONL event sink. Safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

// Open opens (or creates) the event log under the project directory. A
// partial trailing record from a crashed writer is truncated.
func Open(projectDir string) (*Log, error) {
	dir := filepath.Join(projectDir, ".arcadia")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	path := filepath.Join(dir, ".events.jsonl")

	if err := truncateTornTail(path); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	logging.Events("Event log open at %s", path)
	return &Log{file: file, path: path}, nil
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Append writes one event and fsyncs before returning, so an acknowledged
// event survives a crash. Missing id or timestamp are filled in.
func (l *Log) Append(ev types.Event) (types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ev, ErrClosed
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("encode event: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return ev, fmt.Errorf("append event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return ev, fmt.Errorf("sync event log: %w", err)
	}
	logging.EventsDebug("Appended %s event %s (session %d)", ev.Type, ev.EventID, ev.SessionID)
	return ev, nil
}

// Close flushes and closes the log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// Read returns every well-formed event in the file in order. A malformed
// final line is skipped; a malformed line elsewhere is reported, since only
// the tail can legitimately be torn.
func Read(projectDir string) ([]types.Event, error) {
	path := filepath.Join(projectDir, ".arcadia", ".events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var pendingErr error
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Remember the failure; only forgive it if nothing follows.
			pendingErr = fmt.Errorf("event log line %d: %w", lineNo, err)
			continue
		}
		if pendingErr != nil {
			return nil, pendingErr
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Metrics summarizes a slice of events for reporting and failure analysis.
type Metrics struct {
	Total        int
	ToolCalls    int
	ToolErrors   int
	ToolBlocked  int
	Checkpoints  int
	Escalations  int
	Sessions     int
	ByType       map[types.EventType]int
	FirstEventAt time.Time
	LastEventAt  time.Time
}

// Summarize computes counters over events.
func Summarize(events []types.Event) Metrics {
	m := Metrics{ByType: make(map[types.EventType]int)}
	for i, ev := range events {
		m.Total++
		m.ByType[ev.Type]++
		switch ev.Type {
		case types.EventToolCall:
			m.ToolCalls++
		case types.EventToolError:
			m.ToolErrors++
		case types.EventToolBlocked:
			m.ToolBlocked++
		case types.EventCheckpoint:
			m.Checkpoints++
		case types.EventEscalation:
			m.Escalations++
		case types.EventSessionStart:
			m.Sessions++
		}
		if i == 0 {
			m.FirstEventAt = ev.Timestamp
		}
		m.LastEventAt = ev.Timestamp
	}
	return m
}

// truncateTornTail removes a trailing line with no final newline or with
// unparseable JSON, left behind by a writer that died mid-append.
func truncateTornTail(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	keep := len(data)
	if data[keep-1] != '\n' {
		// Drop the unterminated tail.
		cut := lastNewline(data[:keep-1]) + 1
		keep = cut
	} else {
		// Terminated but possibly garbage: validate the last line.
		start := lastNewline(data[:keep-1]) + 1
		var ev types.Event
		if json.Unmarshal(data[start:keep-1], &ev) != nil {
			keep = start
		}
	}
	if keep == len(data) {
		return nil
	}
	logging.Events("Truncating torn event log tail (%d bytes)", len(data)-keep)
	return os.WriteFile(path, data[:keep], 0o644)
}

func lastNewline(data []byte) int {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == '\n' {
			return i
		}
	}
	return -1
}
