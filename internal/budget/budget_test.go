package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"arcadiaforge/internal/config"
)

func testConfig() config.BudgetConfig {
	return config.BudgetConfig{
		InputCostPer1K:  0.003,
		OutputCostPer1K: 0.015,
		MaxBudgetUSD:    1.00,
	}
}

func TestSpentComputation(t *testing.T) {
	tr := New(testConfig())
	tr.Record(10000, 2000)

	// 10k in at $0.003/1k + 2k out at $0.015/1k.
	assert.InDelta(t, 0.06, tr.Spent(), 1e-9)
	assert.False(t, tr.Exceeded())
	assert.InDelta(t, 0.94, tr.Remaining(), 1e-9)
}

func TestExceededAtCap(t *testing.T) {
	tr := New(testConfig())

	tr.Record(300000, 0) // $0.90
	assert.False(t, tr.Exceeded())

	tr.Record(0, 7000) // +$0.105 crosses $1.00
	assert.True(t, tr.Exceeded())
	assert.Equal(t, 0.0, tr.Remaining())
}

func TestZeroCapDisablesEnforcement(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBudgetUSD = 0
	tr := New(cfg)

	tr.Record(10_000_000, 10_000_000)
	assert.False(t, tr.Exceeded())
	assert.Greater(t, tr.Spent(), 0.0)
}

func TestUsageAccumulates(t *testing.T) {
	tr := New(testConfig())
	tr.Record(100, 50)
	tr.Record(200, 75)

	in, out := tr.Usage()
	assert.Equal(t, int64(300), in)
	assert.Equal(t, int64(125), out)
}
