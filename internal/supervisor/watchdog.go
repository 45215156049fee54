package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// errKey identifies one failure mode for cyclic detection.
type errKey struct {
	feature int
	hash    string
}

// monitor is the shared view of a running session that the watchdog, the
// tool-call handler, and RequestPause all touch.
type monitor struct {
	mu sync.Mutex

	cancel       context.CancelFunc
	startedAt    time.Time
	lastActivity time.Time

	toolCalls  int
	toolErrors int
	passed     []int
	messages   int

	ring    []errKey
	ringCap int

	stopStatus types.SessionStatus
	stopReason string
}

func newMonitor(cancel context.CancelFunc, ringCap int) *monitor {
	now := time.Now()
	if ringCap < 1 {
		ringCap = 10
	}
	return &monitor{
		cancel:       cancel,
		startedAt:    now,
		lastActivity: now,
		ringCap:      ringCap,
	}
}

func (m *monitor) noteToolCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls++
	m.lastActivity = time.Now()
}

func (m *monitor) noteMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages++
}

// noteError records one failure and returns how many times this exact
// (feature, error) pair appears in the rolling window.
func (m *monitor) noteError(feature int, message string) int {
	key := errKey{feature: feature, hash: errorHash(message)}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.toolErrors++
	m.lastActivity = time.Now()
	m.ring = append(m.ring, key)
	if len(m.ring) > m.ringCap {
		m.ring = m.ring[len(m.ring)-m.ringCap:]
	}

	count := 0
	for _, k := range m.ring {
		if k == key {
			count++
		}
	}
	return count
}

// notePassed records a feature passing. Re-marking an already-passing
// feature is a no-op, so the same index is only counted once.
func (m *monitor) notePassed(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
	for _, p := range m.passed {
		if p == index {
			return
		}
	}
	m.passed = append(m.passed, index)
}

// flag records the first stop condition and cancels the session. Later
// flags lose; the first reason is the one the session settles with.
func (m *monitor) flag(status types.SessionStatus, reason string) bool {
	m.mu.Lock()
	if m.stopStatus != "" {
		m.mu.Unlock()
		return false
	}
	m.stopStatus = status
	m.stopReason = reason
	cancel := m.cancel
	m.mu.Unlock()

	logging.Supervisor("session flagged %s: %s", status, reason)
	if cancel != nil {
		cancel()
	}
	return true
}

func (m *monitor) flagged() (types.SessionStatus, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopStatus, m.stopReason
}

func (m *monitor) idle(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Sub(m.lastActivity)
}

func (m *monitor) stats() (toolCalls, toolErrors int, passed []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolCalls, m.toolErrors, append([]int(nil), m.passed...)
}

// errorHash normalizes an error message to a short fingerprint so retries
// of the same failure compare equal despite paths and counters.
func errorHash(message string) string {
	norm := strings.ToLower(strings.TrimSpace(message))
	if len(norm) > 200 {
		norm = norm[:200]
	}
	var b strings.Builder
	for _, r := range norm {
		if r >= '0' && r <= '9' {
			continue
		}
		b.WriteRune(r)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:6])
}

// watchdog sweeps stall and budget conditions until the session context is
// done. Cyclic detection happens inline in the tool-call handler, where the
// error is in hand.
func (s *Supervisor) watchdog(ctx context.Context, mon *monitor) {
	ticker := time.NewTicker(s.cfg.WatchdogInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.budget.Exceeded() {
				mon.flag(types.SessionBudgetExceeded, "budget cap reached")
				continue
			}
			if idle := mon.idle(now); idle >= s.cfg.StallTimeout() {
				mon.flag(types.SessionNoProgress, "no tool call for "+idle.Truncate(time.Second).String())
			}
		}
	}
}
