// Package budget tracks cumulative token spend for a run and flags when
// the configured USD cap is reached. The supervisor checks the tracker at
// safe points; a tool in flight is never interrupted over money.
package budget

import (
	"sync"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/logging"
)

// Tracker accumulates token usage and converts it to dollars.
type Tracker struct {
	mu  sync.Mutex
	cfg config.BudgetConfig

	inputTokens  int64
	outputTokens int64
}

// New builds a tracker from the rate table.
func New(cfg config.BudgetConfig) *Tracker {
	return &Tracker{cfg: cfg}
}

// Record adds one exchange's token counts.
func (t *Tracker) Record(inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTokens += inputTokens
	t.outputTokens += outputTokens

	if t.cfg.MaxBudgetUSD > 0 {
		spent := t.spentLocked()
		if spent >= t.cfg.MaxBudgetUSD {
			logging.Budget("budget exceeded: $%.4f of $%.2f", spent, t.cfg.MaxBudgetUSD)
		} else if spent >= 0.8*t.cfg.MaxBudgetUSD {
			logging.Budget("budget warning: $%.4f of $%.2f (%.0f%%)",
				spent, t.cfg.MaxBudgetUSD, 100*spent/t.cfg.MaxBudgetUSD)
		}
	}
}

// Spent returns the dollars consumed so far.
func (t *Tracker) Spent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spentLocked()
}

func (t *Tracker) spentLocked() float64 {
	return float64(t.inputTokens)/1000*t.cfg.InputCostPer1K +
		float64(t.outputTokens)/1000*t.cfg.OutputCostPer1K
}

// Exceeded reports whether the cap has been reached. A zero or negative
// cap disables enforcement.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.MaxBudgetUSD <= 0 {
		return false
	}
	return t.spentLocked() >= t.cfg.MaxBudgetUSD
}

// Remaining returns the dollars left under the cap, never negative.
func (t *Tracker) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.MaxBudgetUSD <= 0 {
		return 0
	}
	left := t.cfg.MaxBudgetUSD - t.spentLocked()
	if left < 0 {
		return 0
	}
	return left
}

// Usage returns the raw token counts.
func (t *Tracker) Usage() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTokens, t.outputTokens
}
