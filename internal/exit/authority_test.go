package exit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/predatorfx/hunter/internal/microstructure"
	"github.com/predatorfx/hunter/pkg/types"
)

func TestAbsorptionRatioBreached_HeavyBuyFlowBreachesShortPosition(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	ts := int64(1_000)
	mid := 1.10000
	// A clean upward walk classifies every tick as a buy, driving the
	// flow window's buy/sell ratio well past a 2.5x absorption threshold.
	for i := 0; i < 25; i++ {
		mid += 0.00010
		tick := types.PriceTick{Instrument: "EUR_USD", Bid: mid - 0.00001, Ask: mid + 0.00001, TsMs: ts}
		st.Update(tick)
		ts += 100
	}

	assert.True(t, absorptionRatioBreached(st, 2.5))
}

func TestAbsorptionRatioBreached_EmptyWindowIsNotBreached(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	assert.False(t, absorptionRatioBreached(st, 2.5))
}

func TestMaybeImproveStop_NoWallNoVWAPIsNoOp(t *testing.T) {
	a := &Authority{vwapLookup: func(types.Instrument) (float64, bool) { return 0, false }}
	st := microstructure.New(types.Instrument("EUR_USD"))
	tick := types.PriceTick{Instrument: "EUR_USD", Bid: 1.09999, Ask: 1.10001, TsMs: 1}
	st.Update(tick)
	pos := types.Position{TradeID: "t1", Instrument: "EUR_USD", Direction: types.DirectionLong, EntryPrice: 1.10000}

	out := a.maybeImproveStop(pos, st)
	assert.False(t, out.StopMoved)
}

func TestMaybeImproveStop_NoMidYetIsNoOp(t *testing.T) {
	a := &Authority{vwapLookup: func(types.Instrument) (float64, bool) { return 0, false }}
	st := microstructure.New(types.Instrument("EUR_USD"))
	pos := types.Position{TradeID: "t1", Instrument: "EUR_USD", Direction: types.DirectionLong, EntryPrice: 1.10000}

	out := a.maybeImproveStop(pos, st)
	assert.False(t, out.StopMoved)
}

func TestEntryStopFloor_LongIsBelowEntryShortIsAbove(t *testing.T) {
	pos := types.Position{Direction: types.DirectionLong, EntryPrice: 1.10000}
	assert.Less(t, entryStopFloor(pos, 0.0001), pos.EntryPrice)

	pos.Direction = types.DirectionShort
	assert.Greater(t, entryStopFloor(pos, 0.0001), pos.EntryPrice)
}

func TestBetterThan_DirectionsCompareOppositeWays(t *testing.T) {
	assert.True(t, betterThan(types.DirectionLong, 1.2, 1.1))
	assert.False(t, betterThan(types.DirectionShort, 1.2, 1.1))
	assert.True(t, betterThan(types.DirectionShort, 1.1, 1.2))
}
