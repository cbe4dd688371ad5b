package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/predatorfx/hunter/internal/microstructure"
	"github.com/predatorfx/hunter/pkg/types"
)

func TestResolveOrderType_TsunamiOverrideGoesMarket(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	tick := types.PriceTick{Instrument: "EUR_USD", Bid: 1.10000, Ask: 1.10010, TsMs: 1}
	view := microstructure.GateView{Efficiency: tsunamiEfficiency + 0.1, VPIN: tsunamiVPIN + 0.01}

	orderType, _ := resolveOrderType(st, tick, types.DirectionLong, view, false)
	assert.Equal(t, "MARKET", orderType)
}

func TestResolveOrderType_NoWallNoLimitOnlyGoesMarket(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	tick := types.PriceTick{Instrument: "EUR_USD", Bid: 1.10000, Ask: 1.10010, TsMs: 1}

	orderType, _ := resolveOrderType(st, tick, types.DirectionLong, microstructure.GateView{}, false)
	assert.Equal(t, "MARKET", orderType)
}

func TestResolveOrderType_LimitOnlyRestsWithoutWall(t *testing.T) {
	st := microstructure.New(types.Instrument("EUR_USD"))
	tick := types.PriceTick{Instrument: "EUR_USD", Bid: 1.10000, Ask: 1.10010, TsMs: 1}

	orderType, price := resolveOrderType(st, tick, types.DirectionLong, microstructure.GateView{}, true)
	assert.Equal(t, "LIMIT", orderType)
	assert.Less(t, price, tick.Mid())
}

func TestSlippageTracker_PromotesAfterConsecutiveAdverseFills(t *testing.T) {
	tr := &SlippageTracker{}
	for i := 0; i < slippagePromoteAfter-1; i++ {
		tr.RecordFill(slippageAdversePips)
		assert.False(t, tr.LimitOnly())
	}
	tr.RecordFill(slippageAdversePips)
	assert.True(t, tr.LimitOnly())
}

func TestSlippageTracker_GoodFillResetsStreak(t *testing.T) {
	tr := &SlippageTracker{}
	tr.RecordFill(slippageAdversePips)
	tr.RecordFill(0.1)
	tr.RecordFill(slippageAdversePips)
	tr.RecordFill(slippageAdversePips)
	assert.False(t, tr.LimitOnly())
}
