package predator

import (
	"math"

	"github.com/predatorfx/hunter/internal/config"
	"github.com/predatorfx/hunter/internal/guards"
	"github.com/predatorfx/hunter/internal/microstructure"
	"github.com/predatorfx/hunter/pkg/types"
)

// Fixed thresholds mandated by spec.md §4.2. Like the microstructure
// constants, these are exact values the gate chain must use, not tunable
// configuration.
const (
	cooldownMs = 300_000 // gate 0

	warmUpMinTicks = 20

	flowRatioLong  = 1.6
	flowRatioShort = 0.625

	hurstFloor = 0.62

	efficiencyFloorGate = 2.0 // gate 5: above the LIQUID band's 1.5 upper bound, below the SLIPPING threshold of 3.0

	weightingPctFloor = 50.0

	driftMagnitudeFloor = 0.12

	vpinToxicFloor = 0.40
	vpinGhostFloor = 0.15

	rulesOfN = 3
)

// Gate is the outcome of a single predicate in the ordered chain.
type Gate struct {
	Name string `json:"name"`
	Pass bool   `json:"pass"`
	// Detail carries the observed value(s) behind the pass/fail verdict,
	// for the structured gate-audit packet (spec.md §4.2, §6).
	Detail map[string]float64 `json:"detail,omitempty"`
}

// Result is the full structured gate-audit packet plus the fire decision.
type Result struct {
	Instrument           types.Instrument
	Gates                []Gate
	RejectedAtGate       string
	AllGatesPassed       bool
	Direction            types.Direction
	ConsecutivePassCount int
	Fired                bool
	Confidence           float64
}

// Evaluate runs the ordered predicate chain of spec.md §4.2 against the
// current instrument state and hysteresis, in order, short-circuiting on
// the first failure. nowMs is the tick's own timestamp, used for the
// cooldown check and the recorded fire time so replay and live evaluation
// agree.
func Evaluate(cfg *config.Config, st *microstructure.InstrumentState, rate *guards.TickRateWindow, hs *State, nowMs int64) Result {
	view := st.GateView()
	flowRatio, buys, sells := st.FlowRatio()

	gates := make([]Gate, 0, 9)
	result := Result{Instrument: st.Instrument}

	reject := func(name string, detail map[string]float64) Result {
		gates = append(gates, Gate{Name: name, Pass: false, Detail: detail})
		result.Gates = gates
		result.RejectedAtGate = name
		hs.recordReject()
		return result
	}
	pass := func(name string, detail map[string]float64) {
		gates = append(gates, Gate{Name: name, Pass: true, Detail: detail})
	}

	// Gate 0: cooldown.
	sinceFire := hs.sinceLastFireMs(nowMs)
	if sinceFire < cooldownMs {
		return reject("cooldown", map[string]float64{"since_last_fire_ms": float64(sinceFire)})
	}
	pass("cooldown", map[string]float64{"since_last_fire_ms": float64(sinceFire)})

	// Gate 1: liquidity (tick density floor).
	tps := rate.TicksPerSecond()
	if !rate.PassesLiquidityFloor() {
		return reject("liquidity", map[string]float64{"ticks_per_second": tps})
	}
	pass("liquidity", map[string]float64{"ticks_per_second": tps})

	// Gate 2: warm-up (enough ticks for the estimator to be meaningful).
	if view.TickCount < warmUpMinTicks {
		return reject("warm_up", map[string]float64{"tick_count": float64(view.TickCount)})
	}
	pass("warm_up", map[string]float64{"tick_count": float64(view.TickCount)})

	// Gate 3: flow direction, from the buys/sells ratio alone.
	var direction types.Direction
	switch {
	case flowRatio >= flowRatioLong:
		direction = types.DirectionLong
	case flowRatio <= flowRatioShort:
		direction = types.DirectionShort
	default:
		return reject("flow_direction", map[string]float64{
			"flow_ratio": flowRatio, "buys": float64(buys), "sells": float64(sells),
		})
	}
	pass("flow_direction", map[string]float64{"flow_ratio": flowRatio})

	// Gate 4: Hurst floor (trending regime required, not mean-reverting noise).
	if view.Hurst < hurstFloor {
		return reject("hurst", map[string]float64{"hurst": view.Hurst})
	}
	pass("hurst", map[string]float64{"hurst": view.Hurst})

	// Gate 5: efficiency floor (reject a tape where force doesn't produce
	// movement; require E of at least efficiencyFloorGate).
	if view.Efficiency < efficiencyFloorGate {
		return reject("efficiency", map[string]float64{"efficiency": view.Efficiency})
	}
	pass("efficiency", map[string]float64{"efficiency": view.Efficiency})

	// Gate 6: weighting majority. The EWMA direction share backing the
	// chosen side must hold a majority.
	sideShare := view.EwmaBuyPct * 100
	if direction == types.DirectionShort {
		sideShare = view.EwmaSellPct * 100
	}
	if sideShare < weightingPctFloor {
		return reject("weighting", map[string]float64{"side_share_pct": sideShare})
	}
	pass("weighting", map[string]float64{"side_share_pct": sideShare})

	// Gate 7: drift magnitude.
	if view.DriftMag < driftMagnitudeFloor {
		return reject("drift_magnitude", map[string]float64{"drift_magnitude": view.DriftMag})
	}
	pass("drift_magnitude", map[string]float64{"drift_magnitude": view.DriftMag})

	// Gate 8: toxicity band. VPIN below the ghost floor is simply quiet
	// flow; between the ghost and toxic floors it is a "ghost move" that
	// looks directional but lacks informed-trader pressure.
	switch {
	case view.VPIN >= vpinToxicFloor:
		pass("toxicity", map[string]float64{"vpin": view.VPIN})
	case view.VPIN >= vpinGhostFloor:
		return reject("toxicity_ghost_move", map[string]float64{"vpin": view.VPIN})
	default:
		return reject("toxicity_floor", map[string]float64{"vpin": view.VPIN})
	}

	result.Gates = gates
	result.AllGatesPassed = true
	result.Direction = direction

	count := hs.recordPass(direction)
	result.ConsecutivePassCount = count

	if count >= rulesOfN {
		result.Fired = true
		result.Confidence = confidence(view, sideShare)
		hs.recordFire(nowMs)
	}
	return result
}

// confidence implements spec.md §4.2's confidence score. The side-bias
// term is always 0.2 at a call site reached only after gate 6 confirmed
// a majority share on the fired side, but it is kept as an explicit term
// rather than folded into a constant so the audit packet shows its
// provenance.
func confidence(view microstructure.GateView, sideSharePct float64) float64 {
	aligned := 0.0
	if sideSharePct >= weightingPctFloor {
		aligned = 0.2
	}
	raw := (view.Hurst-0.5)*3 + (view.Efficiency-3)*0.1 + (view.VPIN-0.4)*2 + aligned
	return math.Max(0, math.Min(1, raw))
}
