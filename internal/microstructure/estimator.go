package microstructure

import (
	"math"

	"github.com/predatorfx/hunter/pkg/types"
)

// Update applies one tick to the instrument state, following exactly
// the twelve-step sequence of spec.md §4.1: later steps read fields
// earlier steps wrote, so the order here is load-bearing.
func (s *InstrumentState) Update(tick types.PriceTick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid := tick.Mid()
	pipMul := s.Instrument.PipMultiplier()

	// Step 1: tick-rule classification with quote fallback.
	side := s.classify(mid, tick.Bid, tick.Ask)

	// Step 2: displacement and elapsed time.
	var dx float64
	var dtMs int64 = 1
	if s.hasPrev {
		dx = mid - s.PrevMid
		dtMs = tick.TsMs - s.PrevTsMs
		if dtMs < 1 {
			dtMs = 1
		}
	}
	dtS := float64(dtMs) / 1000.0

	// Step 3: adaptive alpha (gear-shift).
	s.Alpha = alphaMin + (alphaMax-alphaMin)*math.Exp(-kappa*math.Abs(s.D2))

	// Step 4: Kramers-Moyal recursion (skipped on the instrument's first tick).
	if s.hasPrev {
		alpha := s.Alpha
		s.D1 = alpha*(dx/dtS) + (1-alpha)*s.D1
		residual := dx - s.D1*dtS
		s.D2 = alpha*(residual*residual/dtS) + (1-alpha)*s.D2
	}

	// Step 5: OFI recursion.
	s.OFI = ofiDecay*s.OFI + float64(side)*math.Abs(dx)*pipMul*(1000.0/float64(dtMs))

	// Step 6: Welford online stats over OFI.
	s.ofiN++
	delta := s.OFI - s.ofiMean
	s.ofiMean += delta / float64(s.ofiN)
	delta2 := s.OFI - s.ofiMean
	s.ofiM2 += delta * delta2
	variance := s.ofiM2 / float64(s.ofiN)
	if variance < welfordVarFloor {
		variance = welfordVarFloor
	}
	s.ZOFI = (s.OFI - s.ofiMean) / math.Sqrt(variance)

	// Step 7: Hall-Wood fast Hurst exponent.
	if s.hasPrev {
		s.sumD1Abs += math.Abs(dx)
		s.sumD2Abs += math.Abs(dx + s.prevDx)
		s.hurstN++
		if s.hurstN >= hurstScale && s.sumD1Abs > 1e-15 {
			ratio := s.sumD2Abs / s.sumD1Abs
			if ratio < 1e-10 {
				ratio = 1e-10
			}
			raw := math.Log2(ratio)
			s.Hurst = 0.5*types.Clamp(raw, 0, 1) + 0.5*s.Hurst
			s.sumD1Abs = 0
			s.sumD2Abs = 0
			s.hurstN = 0
		}
	}
	s.prevDx = dx

	s.flow.record(side)

	// Step 8: direction EWMA.
	if side == types.SideBuy {
		s.EwmaBuyPct = directionDecay*s.EwmaBuyPct + (1 - directionDecay)
		s.EwmaSellPct = directionDecay * s.EwmaSellPct
		s.RunningBuys++
	} else {
		s.EwmaSellPct = directionDecay*s.EwmaSellPct + (1 - directionDecay)
		s.EwmaBuyPct = directionDecay * s.EwmaBuyPct
		s.RunningSells++
	}

	// Step 9: recursive VPIN.
	volProxy := math.Abs(dx) * pipMul * (1000.0 / float64(dtMs))
	if volProxy < 0.001 {
		volProxy = 0.001
	}
	if side == types.SideBuy {
		s.ewmaBuyVol = vpinDecay*s.ewmaBuyVol + (1-vpinDecay)*volProxy
		s.ewmaSellVol = vpinDecay * s.ewmaSellVol
	} else {
		s.ewmaSellVol = vpinDecay*s.ewmaSellVol + (1-vpinDecay)*volProxy
		s.ewmaBuyVol = vpinDecay * s.ewmaBuyVol
	}
	if sum := s.ewmaBuyVol + s.ewmaSellVol; sum > 1e-9 {
		s.VPIN = math.Abs(s.ewmaBuyVol-s.ewmaSellVol) / sum
	}

	// Step 10: price-level persistence.
	s.updateLevel(mid, tick.TsMs, side)

	// Step 11: efficiency ratio and market-state classification.
	force := math.Abs(s.OFI) / pipMul
	velocity := math.Abs(s.D1)*pipMul + efficiencyFloor
	s.Efficiency = force / velocity
	s.State = classifyMarketState(s.Efficiency)

	// Step 12: commit anchors.
	s.PrevMid = mid
	s.PrevTsMs = tick.TsMs
	s.hasPrev = true
	s.TickCount++
	s.LastClassification = side
}

// classify implements the tick-rule-with-quote-fallback of step 1.
func (s *InstrumentState) classify(mid, bid, ask float64) types.Side {
	if !s.hasPrev {
		return s.LastClassification
	}
	if mid > s.PrevMid {
		return types.SideBuy
	}
	if mid < s.PrevMid {
		return types.SideSell
	}
	quoteMid := (bid + ask) / 2
	if mid > quoteMid {
		return types.SideBuy
	}
	if mid < quoteMid {
		return types.SideSell
	}
	return s.LastClassification
}

func classifyMarketState(e float64) types.MarketState {
	switch {
	case e < efficiencyAbsorbing:
		return types.StateAbsorbing
	case e > efficiencySlipping:
		return types.StateSlipping
	case e >= efficiencyLiquidLo && e <= efficiencyLiquidHi:
		return types.StateLiquid
	default:
		return types.StateNeutral
	}
}

// DriftMagnitude returns |D1/sqrt(max(D2,floor))*pipMul| used by gate 7.
func (s *InstrumentState) DriftMagnitude() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d2 := s.D2
	if d2 < d2Floor {
		d2 = d2Floor
	}
	return math.Abs(s.D1 / math.Sqrt(d2) * s.Instrument.PipMultiplier())
}
