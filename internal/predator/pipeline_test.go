package predator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatorfx/hunter/internal/config"
	"github.com/predatorfx/hunter/internal/guards"
	"github.com/predatorfx/hunter/internal/microstructure"
	"github.com/predatorfx/hunter/pkg/types"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.Trading.ZDivergenceThreshold = 2.0
	return c
}

func warmRate() *guards.TickRateWindow {
	w := guards.NewTickRateWindow()
	base := int64(1_000_000)
	for i := 0; i < 10; i++ {
		w.Record(base + int64(i)*100) // 10 ticks/sec, clears the liquidity floor
	}
	return w
}

func TestEvaluate_RejectsOnCooldownBeforeAnyFire(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	hs := NewState()
	hs.LastFireTsMs = 1_000_000 // simulate a very recent fire

	res := Evaluate(testConfig(), st, warmRate(), hs, 1_000_000+cooldownMs-1)
	assert.Equal(t, "cooldown", res.RejectedAtGate)
	assert.False(t, res.AllGatesPassed)
}

func TestEvaluate_RejectsBelowWarmUpTickCount(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	hs := NewState()

	res := Evaluate(testConfig(), st, warmRate(), hs, 2_000_000)
	require.NotEmpty(t, res.Gates)
	// Zero ticks applied: cooldown and liquidity pass, warm-up rejects.
	assert.Equal(t, "warm_up", res.RejectedAtGate)
}

func TestEvaluate_RuleOfThreeRequiresThreeConsecutivePasses(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	hs := NewState()
	cfg := testConfig()
	rate := warmRate()

	// Drive enough ticks to clear warm-up with a clean upward walk so
	// every directional gate reads long.
	ts := int64(1_700_000_000_000)
	mid := 1.10000
	for i := 0; i < warmUpMinTicks+25; i++ {
		mid += 0.00010
		ts += 200
		tick := types.PriceTick{Instrument: "EUR_USD", Bid: mid - 0.00005, Ask: mid + 0.00005, TsMs: ts}
		st.Update(tick)
		rate.Record(ts)
	}

	var last Result
	fires := 0
	firstFireAt := -1
	for i := 0; i < 5; i++ {
		ts += 200
		mid += 0.00010
		tick := types.PriceTick{Instrument: "EUR_USD", Bid: mid - 0.00005, Ask: mid + 0.00005, TsMs: ts}
		st.Update(tick)
		rate.Record(ts)
		last = Evaluate(cfg, st, rate, hs, ts)
		if last.Fired {
			if fires == 0 {
				firstFireAt = i
			}
			fires++
		}
	}

	// Firing is possible only once three consecutive evaluations pass
	// every gate; it can never happen on the first or second evaluation
	// of a fresh hysteresis state.
	if fires > 0 {
		assert.GreaterOrEqual(t, firstFireAt, rulesOfN-1)
	}
	assert.LessOrEqual(t, fires, 3)
}

func TestEvaluate_RejectResetsConsecutivePassCount(t *testing.T) {
	hs := NewState()
	hs.ConsecutivePassCount = 2
	hs.LastPassDirection = types.DirectionLong
	hs.recordReject()
	assert.Equal(t, 0, hs.ConsecutivePassCount)
	assert.Equal(t, types.DirectionNone, hs.LastPassDirection)
}

func TestEvaluate_DirectionFlipResetsBeforeCounting(t *testing.T) {
	hs := NewState()
	c1 := hs.recordPass(types.DirectionLong)
	c2 := hs.recordPass(types.DirectionLong)
	assert.Equal(t, 1, c1)
	assert.Equal(t, 2, c2)

	c3 := hs.recordPass(types.DirectionShort)
	assert.Equal(t, 1, c3, "a direction flip restarts the consecutive-pass count at 1, not 0")
}

func TestConfidence_ClampedToUnitInterval(t *testing.T) {
	view := microstructure.GateView{Hurst: 1.0, Efficiency: 10, VPIN: 1.0}
	assert.Equal(t, 1.0, confidence(view, 60))

	low := microstructure.GateView{Hurst: 0, Efficiency: 0, VPIN: 0}
	assert.Equal(t, 0.0, confidence(low, 10))
}
