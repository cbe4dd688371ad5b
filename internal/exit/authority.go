// Package exit implements the autonomous exit authority: a 2-second
// polling loop over open positions that closes or re-anchors stops
// independently of the gate pipeline that opened them (spec.md §4.4).
package exit

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/predatorfx/hunter/internal/broker"
	"github.com/predatorfx/hunter/internal/config"
	"github.com/predatorfx/hunter/internal/microstructure"
	"github.com/predatorfx/hunter/pkg/types"
)

const (
	pollInterval         = 2 * time.Second
	whaleShadowRangePips = 3.0
	wallOffsetPips       = 0.3
	entryStopBufferPips  = 2.0
	exitTickCountFloor   = 10
)

// ExitReason names which predicate fired. The string values double as
// the order row's health_governance_action (spec.md §6).
type ExitReason string

const (
	ReasonNone                ExitReason = ""
	ReasonRegimeCollapse      ExitReason = "REGIME_EXIT"
	ReasonFlowConsensusLoss   ExitReason = "FLOW_EXIT"
	ReasonZOFISlam            ExitReason = "ZOFI_SLAM_EXIT"
	ReasonAbsorptionEmergency ExitReason = "ABSORPTION_EXIT"
)

// Outcome records what the authority did with one position on one poll.
type Outcome struct {
	TradeID   string
	Closed    bool
	Reason    ExitReason
	StopMoved bool
	NewStop   float64
}

// PositionStore is the minimal interface the authority needs over open
// positions; the session orchestrator's persistence adapter implements it.
type PositionStore interface {
	OpenPositions() []types.Position
	UpdateStop(tradeID string, price float64)
	MarkClosed(tradeID string, reason ExitReason, exitPrice float64)
}

// StateLookup resolves the live InstrumentState for a position's instrument.
type StateLookup func(inst types.Instrument) (*microstructure.InstrumentState, bool)

// VWAPLookup resolves the session-anchored tick-weighted price reference
// for an instrument, owned by the session orchestrator (spec.md §3).
type VWAPLookup func(inst types.Instrument) (float64, bool)

// Authority polls open positions on a fixed interval, sharding the work
// across a worker pool keyed by instrument so no two positions on the
// same instrument are ever evaluated concurrently (serialized
// per-instrument state access, the one concurrency shape spec.md §7
// allows beyond a single cooperative task).
type Authority struct {
	cfg        *config.Config
	client     *broker.Client
	store      PositionStore
	lookup     StateLookup
	vwapLookup VWAPLookup
	logger     *zap.Logger
}

// New constructs an exit Authority.
func New(cfg *config.Config, client *broker.Client, store PositionStore, lookup StateLookup, vwapLookup VWAPLookup, logger *zap.Logger) *Authority {
	return &Authority{
		cfg:        cfg,
		client:     client,
		store:      store,
		lookup:     lookup,
		vwapLookup: vwapLookup,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled, shelling out one evaluation per open
// position per tick to an ants pool sharded by instrument name.
func (a *Authority) Run(ctx context.Context) error {
	pool, err := ants.NewPool(8, ants.WithOptions(ants.Options{
		ExpiryDuration: 5 * time.Minute,
		PreAlloc:       true,
		Nonblocking:    false,
	}))
	if err != nil {
		return err
	}
	defer pool.Release()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.pollOnce(pool)
		}
	}
}

func (a *Authority) pollOnce(pool *ants.Pool) {
	byInstrument := make(map[types.Instrument][]types.Position)
	for _, pos := range a.store.OpenPositions() {
		byInstrument[pos.Instrument] = append(byInstrument[pos.Instrument], pos)
	}
	var wg sync.WaitGroup
	for inst, positions := range byInstrument {
		inst, positions := inst, positions
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			for _, pos := range positions {
				a.evaluate(pos)
			}
		})
		if submitErr != nil {
			a.logger.Warn("exit authority pool submit failed", zap.Error(submitErr), zap.String("instrument", string(inst)))
			wg.Done()
		}
	}
	wg.Wait()
}

// evaluate runs the exit predicates for one position and acts on the
// result. Exit predicates and stop-loss anchoring only run once the
// instrument itself has enough ticks to trust (spec.md §4.4).
func (a *Authority) evaluate(pos types.Position) Outcome {
	st, ok := a.lookup(pos.Instrument)
	if !ok {
		return Outcome{TradeID: pos.TradeID}
	}

	view := st.GateView()
	if view.TickCount < exitTickCountFloor {
		return Outcome{TradeID: pos.TradeID}
	}

	nowMs := time.Now().UnixMilli()
	if pos.HoldDurationMs(nowMs) < a.cfg.ExitGuards.HoldGuardMs {
		return Outcome{TradeID: pos.TradeID}
	}

	flowShare := view.EwmaBuyPct * 100
	if pos.Direction == types.DirectionShort {
		flowShare = view.EwmaSellPct * 100
	}

	reason := ReasonNone
	switch {
	case view.Hurst < a.cfg.ExitGuards.RegimeHurstFloor:
		reason = ReasonRegimeCollapse
	case flowShare < a.cfg.ExitGuards.FlowConsensusFloorPct:
		reason = ReasonFlowConsensusLoss
	case pos.Direction == types.DirectionLong && view.ZOFI <= -a.cfg.ExitGuards.ZOFISlamThreshold:
		reason = ReasonZOFISlam
	case pos.Direction == types.DirectionShort && view.ZOFI >= a.cfg.ExitGuards.ZOFISlamThreshold:
		reason = ReasonZOFISlam
	case pos.Direction == types.DirectionShort && absorptionRatioBreached(st, a.cfg.ExitGuards.AbsorptionBuySellRatio):
		reason = ReasonAbsorptionEmergency
	}

	if reason != ReasonNone {
		if err := a.client.CloseOrder(context.Background(), pos.TradeID); err != nil {
			a.logger.Error("exit authority close failed", zap.Error(err), zap.String("trade_id", pos.TradeID))
			return Outcome{TradeID: pos.TradeID}
		}
		exitPrice, _ := st.CurrentMid()
		a.store.MarkClosed(pos.TradeID, reason, exitPrice)
		return Outcome{TradeID: pos.TradeID, Closed: true, Reason: reason}
	}

	return a.maybeImproveStop(pos, st)
}

// absorptionRatioBreached reports whether the last up-to-20 classified
// ticks show a buys/sells ratio at or beyond the configured threshold
// (spec.md §4.4 predicate 4, short positions only: a buy wall absorbing
// the short's own side).
func absorptionRatioBreached(st *microstructure.InstrumentState, ratio float64) bool {
	flowRatio, buys, _ := st.FlowRatio()
	if buys == 0 {
		return false
	}
	return flowRatio >= ratio
}

// maybeImproveStop re-anchors the stop to a freshly detected wall, or
// falls back to the session VWAP reference when no wall exists, moving
// it only in the position's favor and never below the initial floor of
// entry price minus a buffer (spec.md §4.4 steps 1-4).
func (a *Authority) maybeImproveStop(pos types.Position, st *microstructure.InstrumentState) Outcome {
	mid, ok := st.CurrentMid()
	if !ok {
		return Outcome{TradeID: pos.TradeID}
	}
	pip := 1.0 / pos.Instrument.PipMultiplier()

	wantBuyWall := pos.Direction == types.DirectionLong
	below := pos.Direction == types.DirectionLong

	candidate, found := 0.0, false
	if wall, ok := st.FindWall(mid, 0, whaleShadowRangePips, wantBuyWall, below); ok {
		if pos.Direction == types.DirectionLong {
			candidate = wall.Price - wallOffsetPips*pip
		} else {
			candidate = wall.Price + wallOffsetPips*pip
		}
		found = true
	} else if ref, ok := a.vwapLookup(pos.Instrument); ok {
		var fallback float64
		if pos.Direction == types.DirectionLong {
			fallback = ref - wallOffsetPips*pip
		} else {
			fallback = ref + wallOffsetPips*pip
		}
		onCorrectSide := (pos.Direction == types.DirectionLong && fallback < mid) ||
			(pos.Direction == types.DirectionShort && fallback > mid)
		if onCorrectSide {
			candidate = fallback
			found = true
		}
	}
	if !found {
		return Outcome{TradeID: pos.TradeID}
	}

	floor := entryStopFloor(pos, pip)
	if !betterThan(pos.Direction, candidate, floor) {
		candidate = floor
	}
	if pos.CurrentStopPrice != 0 && !betterThan(pos.Direction, candidate, pos.CurrentStopPrice) {
		return Outcome{TradeID: pos.TradeID}
	}

	if err := a.client.UpdateStopLoss(context.Background(), pos.TradeID, candidate); err != nil {
		a.logger.Warn("exit authority stop update failed", zap.Error(err), zap.String("trade_id", pos.TradeID))
		return Outcome{TradeID: pos.TradeID}
	}
	a.store.UpdateStop(pos.TradeID, candidate)
	return Outcome{TradeID: pos.TradeID, StopMoved: true, NewStop: candidate}
}

// entryStopFloor is the initial-placement floor of spec.md §4.4 step 4:
// entry price minus a 2-pip buffer for longs, plus for shorts.
func entryStopFloor(pos types.Position, pip float64) float64 {
	if pos.Direction == types.DirectionLong {
		return pos.EntryPrice - entryStopBufferPips*pip
	}
	return pos.EntryPrice + entryStopBufferPips*pip
}

// betterThan reports whether candidate is a strict improvement over
// reference in the position's favor: higher for longs, lower for shorts.
func betterThan(direction types.Direction, candidate, reference float64) bool {
	if direction == types.DirectionLong {
		return candidate > reference
	}
	return candidate < reference
}
