package guards

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpreadWindow_DefaultsToHardCapUnderMinSamples(t *testing.T) {
	w := NewSpreadWindow()
	for i := 0; i < 5; i++ {
		w.Record(1.0)
	}
	res := w.Evaluate(4.1)
	assert.False(t, res.Pass)
	assert.Equal(t, "hard max", res.Reason)
}

func TestSpreadWindow_RelativeRejectStrictlyGreater(t *testing.T) {
	w := NewSpreadWindow()
	for i := 0; i < 20; i++ {
		w.Record(1.0)
	}
	// average == 1.0, threshold == 1.5; exactly at threshold must pass.
	assert.True(t, w.Evaluate(1.5).Pass)
	assert.False(t, w.Evaluate(1.50001).Pass)
}

func TestSpreadWindow_HardCapIndependentOfAverage(t *testing.T) {
	w := NewSpreadWindow()
	for i := 0; i < 20; i++ {
		w.Record(0.5)
	}
	res := w.Evaluate(4.5)
	assert.False(t, res.Pass)
	assert.Equal(t, "hard max", res.Reason)
}

func TestSessionHourBlocked_Boundaries(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }
	assert.False(t, SessionHourBlocked(at(19)))
	assert.True(t, SessionHourBlocked(at(20)))
	assert.True(t, SessionHourBlocked(at(23)))
	assert.True(t, SessionHourBlocked(at(0)))
	assert.False(t, SessionHourBlocked(at(1)))
}

func TestTickRateWindow_LiquidityFloor(t *testing.T) {
	w := NewTickRateWindow()
	base := int64(1_000_000)
	for i := 0; i < 10; i++ {
		w.Record(base + int64(i)*200) // 5 ticks/sec
	}
	assert.True(t, w.PassesLiquidityFloor())

	sparse := NewTickRateWindow()
	sparse.Record(base)
	sparse.Record(base + 3000)
	assert.False(t, sparse.PassesLiquidityFloor())
}
