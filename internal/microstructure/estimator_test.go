package microstructure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/predatorfx/hunter/pkg/types"
)

func TestNew_WarmStart(t *testing.T) {
	s := New("EUR_USD")
	assert.Equal(t, hurstWarmStart, s.Hurst)
	assert.Equal(t, vpinWarmStart, s.ewmaBuyVol)
	assert.Equal(t, vpinWarmStart, s.ewmaSellVol)
	assert.Equal(t, 0, len(s.PriceLevels))
}

func TestUpdate_FirstTick_NoKMUpdate(t *testing.T) {
	s := New("EUR_USD")
	s.Update(types.PriceTick{Instrument: "EUR_USD", Bid: 1.1000, Ask: 1.1002, TsMs: 1000})

	assert.Equal(t, int64(1), s.TickCount)
	assert.Equal(t, 0.0, s.D1, "no KM update occurs on the instrument's first tick")
	assert.InDelta(t, 1.1001, s.PrevMid, 1e-9)
}

func TestUpdate_TickCountAndAnchors(t *testing.T) {
	s := New("EUR_USD")
	ticks := []types.PriceTick{
		{Instrument: "EUR_USD", Bid: 1.1000, Ask: 1.1002, TsMs: 1000},
		{Instrument: "EUR_USD", Bid: 1.1001, Ask: 1.1003, TsMs: 1250},
		{Instrument: "EUR_USD", Bid: 1.1002, Ask: 1.1004, TsMs: 1500},
	}
	for _, tk := range ticks {
		s.Update(tk)
	}
	require.Equal(t, int64(3), s.TickCount)
	assert.InDelta(t, ticks[2].Mid(), s.PrevMid, 1e-9)
	assert.Equal(t, ticks[2].TsMs, s.PrevTsMs)
}

func TestUpdate_DirectionEwmaSumsToOne(t *testing.T) {
	s := New("EUR_USD")
	mid := 1.1000
	ts := int64(1000)
	for i := 0; i < 50; i++ {
		mid += 0.00002
		ts += 200
		s.Update(types.PriceTick{Instrument: "EUR_USD", Bid: mid - 0.0001, Ask: mid + 0.0001, TsMs: ts})
		sum := s.EwmaBuyPct + s.EwmaSellPct
		assert.InDelta(t, 1.0, sum, 0.001)
	}
}

func TestUpdate_VpinAndHurstBounded(t *testing.T) {
	s := New("EUR_USD")
	mid := 1.1000
	ts := int64(1000)
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			mid += 0.00003
		} else {
			mid -= 0.00002
		}
		ts += 300
		s.Update(types.PriceTick{Instrument: "EUR_USD", Bid: mid - 0.0001, Ask: mid + 0.0001, TsMs: ts})
		assert.GreaterOrEqual(t, s.VPIN, 0.0)
		assert.LessOrEqual(t, s.VPIN, 1.0)
		assert.GreaterOrEqual(t, s.Hurst, 0.0)
		assert.LessOrEqual(t, s.Hurst, 1.0)
		assert.GreaterOrEqual(t, s.D2, 0.0)
	}
}

func TestUpdate_PriceLevelMemoryBound(t *testing.T) {
	s := New("EUR_USD")
	mid := 1.0000
	ts := int64(1000)
	for i := 0; i < 2000; i++ {
		mid += 0.01 // walk far enough to create many distinct buckets
		ts += 250
		s.Update(types.PriceTick{Instrument: "EUR_USD", Bid: mid - 0.0001, Ask: mid + 0.0001, TsMs: ts})
		assert.LessOrEqual(t, len(s.PriceLevels), priceLevelMemory)
	}
}

func TestUpdate_WelfordMatchesGonumOnStaticSeries(t *testing.T) {
	// Cross-check the Welford recursion of Update's step 6, reproduced
	// inline below, against an independent batch mean on a frozen slice of
	// values; the estimator's own accumulators are not read here.
	values := []float64{1.0, 2.0, 1.5, 3.0, 2.5, 4.0, 0.5}
	want := stat.Mean(values, nil)

	var mean, m2 float64
	var n float64
	for _, v := range values {
		n++
		delta := v - mean
		mean += delta / n
		delta2 := v - mean
		m2 += delta * delta2
	}
	assert.InDelta(t, want, mean, 1e-9)
}

func TestClassify_QuoteFallback(t *testing.T) {
	s := New("EUR_USD")
	s.Update(types.PriceTick{Instrument: "EUR_USD", Bid: 1.1000, Ask: 1.1002, TsMs: 1000})
	require.Equal(t, types.SideBuy, s.LastClassification)

	// Same mid as previous tick with a wider quote: the tick rule ties and
	// the quote comparison ties too, so the previous buy classification carries.
	s.Update(types.PriceTick{Instrument: "EUR_USD", Bid: 1.0999, Ask: 1.1003, TsMs: 1200})
	assert.Equal(t, types.SideBuy, s.LastClassification)
}

func TestDriftMagnitude_FiniteAfterWarmup(t *testing.T) {
	s := New("EUR_USD")
	mid := 1.1000
	ts := int64(1000)
	for i := 0; i < 30; i++ {
		mid += 0.00002
		ts += 200
		s.Update(types.PriceTick{Instrument: "EUR_USD", Bid: mid - 0.0001, Ask: mid + 0.0001, TsMs: ts})
	}
	dm := s.DriftMagnitude()
	assert.False(t, math.IsNaN(dm))
	assert.False(t, math.IsInf(dm, 0))
}
