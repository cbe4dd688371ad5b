// Package microstructure maintains one recursive, O(1)-updated state
// object per instrument: Kramers-Moyal drift/diffusion, order-flow
// imbalance with an online Z-score, a fast Hall-Wood Hurst exponent, a
// VPIN surrogate, and a bounded price-level persistence map. All update
// formulas and constants are mandated by spec.md §4.1 and must not
// drift from the sequence documented there.
package microstructure

import (
	"math"
	"sync"

	"github.com/predatorfx/hunter/pkg/types"
)

// Tunable constants fixed by spec.md §4.1. These are not configuration:
// they are exact values the estimator must use.
const (
	kappa = 1e6
	alphaMin = 0.01
	alphaMax = 0.15

	ofiDecay = 0.95 // gamma

	hurstScale        = 20
	hurstWarmStart    = 0.55
	directionDecay    = 0.88 // d
	vpinDecay         = 0.92 // dv
	vpinWarmStart     = 0.5

	priceLevelMemory = 500

	efficiencyAbsorbing = 0.3
	efficiencySlipping  = 3.0
	efficiencyLiquidLo  = 0.7
	efficiencyLiquidHi  = 1.5

	welfordVarFloor = 1e-20
	d2Floor         = 1e-14
	efficiencyFloor = 1e-10
)

// LevelInfo tracks hit/direction history for one bucketed price level
// (spec.md §3 LevelInfo, §4.1 step 10).
type LevelInfo struct {
	Hits                int
	Buys                int
	Sells               int
	LastTsMs            int64
	Bounces             int
	LastDirection       types.Side
	Broken              bool
	ConsecutiveSameDir  int
}

// NetSigned returns buys-sells, signed toward the majority side.
func (l *LevelInfo) NetSigned() int {
	return l.Buys - l.Sells
}

// InstrumentState is the single mutable per-instrument state object.
// It has single-session lifetime and is mutated only by Update in the
// session's decode loop; readers on other goroutines (the exit
// authority's poll) go through its mutex.
type InstrumentState struct {
	mu sync.Mutex

	Instrument types.Instrument

	PrevMid   float64
	PrevTsMs  int64
	hasPrev   bool

	D1    float64
	D2    float64
	Alpha float64

	OFI float64

	ofiMean float64
	ofiM2   float64
	ofiN    int64
	ZOFI    float64

	sumD1Abs float64
	sumD2Abs float64
	prevDx   float64
	hurstN   int
	Hurst    float64

	ewmaBuyVol  float64
	ewmaSellVol float64
	VPIN        float64

	LastClassification types.Side

	PriceLevels map[float64]*LevelInfo

	RunningBuys  int64
	RunningSells int64

	EwmaBuyPct  float64
	EwmaSellPct float64

	TickCount int64

	Efficiency float64
	State      types.MarketState

	flow flowWindow
}

// New creates a warm-started InstrumentState (spec.md §4.1 "Warm-start
// discipline": these constants are deliberate and must not be zeroed).
func New(instrument types.Instrument) *InstrumentState {
	return &InstrumentState{
		Instrument:          instrument,
		Alpha:               alphaMin,
		Hurst:               hurstWarmStart,
		ewmaBuyVol:          vpinWarmStart,
		ewmaSellVol:         vpinWarmStart,
		LastClassification:  types.SideBuy,
		PriceLevels:         make(map[float64]*LevelInfo),
		EwmaBuyPct:          0.5,
		EwmaSellPct:         0.5,
	}
}

// Snapshot is a read-only, serialisable view of an InstrumentState for
// persistence and diagnostics (spec.md §4.5, §6).
type Snapshot struct {
	Instrument   string  `json:"instrument"`
	D1           float64 `json:"d1"`
	D2           float64 `json:"d2"`
	Hurst        float64 `json:"hurst"`
	VPIN         float64 `json:"vpin"`
	ZOFI         float64 `json:"z_ofi"`
	Efficiency   float64 `json:"efficiency"`
	State        string  `json:"market_state"`
	TickCount    int64   `json:"tick_count"`
	RunningBuys  int64   `json:"running_buys"`
	RunningSells int64   `json:"running_sells"`
	LevelCount   int     `json:"price_level_count"`
}

// GateView is a single-lock-acquisition read of every derived quantity
// the gate pipeline consults, so a gate chain evaluates against one
// consistent instant rather than tearing across several locked calls.
type GateView struct {
	Hurst       float64
	VPIN        float64
	Efficiency  float64
	ZOFI        float64
	EwmaBuyPct  float64
	EwmaSellPct float64
	TickCount   int64
	DriftMag    float64
}

// GateView returns the current gate-relevant quantities under one lock.
func (s *InstrumentState) GateView() GateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	d2 := s.D2
	if d2 < d2Floor {
		d2 = d2Floor
	}
	driftMag := math.Abs(s.D1 / math.Sqrt(d2) * s.Instrument.PipMultiplier())
	return GateView{
		Hurst:       s.Hurst,
		VPIN:        s.VPIN,
		Efficiency:  s.Efficiency,
		ZOFI:        s.ZOFI,
		EwmaBuyPct:  s.EwmaBuyPct,
		EwmaSellPct: s.EwmaSellPct,
		TickCount:   s.TickCount,
		DriftMag:    driftMag,
	}
}

// CurrentMid returns the most recently observed mid price and whether
// any tick has been applied yet.
func (s *InstrumentState) CurrentMid() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PrevMid, s.hasPrev
}

// Snapshot returns a read-only view of the current derived quantities.
func (s *InstrumentState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Instrument:   string(s.Instrument),
		D1:           s.D1,
		D2:           s.D2,
		Hurst:        s.Hurst,
		VPIN:         s.VPIN,
		ZOFI:         s.ZOFI,
		Efficiency:   s.Efficiency,
		State:        string(s.State),
		TickCount:    s.TickCount,
		RunningBuys:  s.RunningBuys,
		RunningSells: s.RunningSells,
		LevelCount:   len(s.PriceLevels),
	}
}
