// Package executor turns a fired gate-pipeline signal into a broker
// order: pre-trade gates, order-type resolution, and slippage tracking
// with auto-promotion to limit-only (spec.md §4.3).
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/predatorfx/hunter/internal/broker"
	"github.com/predatorfx/hunter/internal/config"
	"github.com/predatorfx/hunter/internal/guards"
	"github.com/predatorfx/hunter/internal/microstructure"
	"github.com/predatorfx/hunter/internal/predator"
	hunterrors "github.com/predatorfx/hunter/pkg/errors"
	"github.com/predatorfx/hunter/pkg/types"
)

const (
	wallSearchMinPips    = 1.0
	wallSearchMaxPips    = 30.0
	wallOffsetPips       = 0.3 // distance beyond the wall a limit order rests at
	tsunamiEfficiency    = 7.0
	tsunamiVPIN          = 0.65
	slippagePromoteAfter = 5 // consecutive adverse fills before auto-promoting to limit-only
	slippageAdversePips  = 1.2
)

// Decision records what order-type logic chose and why, for the audit
// trail alongside the gate packet.
type Decision struct {
	Skipped       bool
	SkipReason    string
	OrderType     string
	LimitPrice    float64
	ClientOrderID string
	Response      broker.OrderResponse
}

// SlippageTracker holds one instrument's rolling fill-quality stats and
// decides when the executor should stop sending market orders.
type SlippageTracker struct {
	mu                 sync.Mutex
	consecutiveAdverse int
	limitOnly          bool
}

// RecordFill updates the tracker from a fill's realized slippage in
// pips (signed: positive is adverse to the position direction).
func (t *SlippageTracker) RecordFill(slippagePips float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slippagePips >= slippageAdversePips {
		t.consecutiveAdverse++
		if t.consecutiveAdverse >= slippagePromoteAfter {
			t.limitOnly = true
		}
	} else {
		t.consecutiveAdverse = 0
	}
}

// LimitOnly reports whether this instrument has been auto-promoted to
// limit-only order placement.
func (t *SlippageTracker) LimitOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitOnly
}

// Executor wires the pre-trade gates, order-type resolution, and broker
// client together for one session.
type Executor struct {
	cfg    *config.Config
	client *broker.Client
	logger *zap.Logger

	mu       sync.Mutex
	spreads  map[types.Instrument]*guards.SpreadWindow
	slippage map[types.Instrument]*SlippageTracker
}

// New constructs an Executor for the session's configured instruments.
func New(cfg *config.Config, client *broker.Client, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		spreads:  make(map[types.Instrument]*guards.SpreadWindow),
		slippage: make(map[types.Instrument]*SlippageTracker),
	}
}

func (e *Executor) spreadWindow(inst types.Instrument) *guards.SpreadWindow {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.spreads[inst]
	if !ok {
		w = guards.NewSpreadWindow()
		e.spreads[inst] = w
	}
	return w
}

func (e *Executor) slippageTracker(inst types.Instrument) *SlippageTracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slippage[inst]
	if !ok {
		s = &SlippageTracker{}
		e.slippage[inst] = s
	}
	return s
}

// RecordTick feeds the per-instrument spread window; called on every
// tick regardless of gate outcome so the rolling average stays current.
func (e *Executor) RecordTick(tick types.PriceTick) {
	e.spreadWindow(tick.Instrument).Record(tick.SpreadPips())
}

// Execute runs the pre-trade gates against a fired predator signal and,
// if they pass, resolves an order type and submits it.
func (e *Executor) Execute(ctx context.Context, tick types.PriceTick, st *microstructure.InstrumentState, signal predator.Result, now time.Time) Decision {
	if guards.SessionHourBlocked(now) {
		return Decision{Skipped: true, SkipReason: "session_hour_blackout"}
	}

	spreadRes := e.spreadWindow(tick.Instrument).Evaluate(tick.SpreadPips())
	if !spreadRes.Pass {
		return Decision{Skipped: true, SkipReason: "spread_gate_" + spreadRes.Reason}
	}

	view := st.GateView()
	orderType, limitPrice := resolveOrderType(st, tick, signal.Direction, view, e.slippageTracker(tick.Instrument).LimitOnly())

	units := e.cfg.Trading.BaseOrderUnits
	clientOrderID := ksuid.New().String()
	req := broker.OrderRequest{
		Instrument:     tick.Instrument,
		Direction:      signal.Direction,
		Units:          units,
		OrderType:      orderType,
		LimitPrice:     limitPrice,
		StopLossPips:   e.cfg.Trading.BaseStopLossPips,
		TakeProfitPips: e.cfg.Trading.BaseTakeProfitPips,
		ClientOrderID:  clientOrderID,
	}

	resp, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		if hunterrors.IsFatal(err) {
			e.logger.Error("fatal error placing order", zap.Error(err))
		} else {
			e.logger.Warn("order placement failed", zap.Error(err), zap.String("instrument", string(tick.Instrument)))
		}
		return Decision{Skipped: true, SkipReason: "broker_transport_error"}
	}

	if resp.Kind == broker.ResponseFilled {
		mid := tick.Mid()
		slip := (resp.FillPrice - mid) * tick.Instrument.PipMultiplier()
		if signal.Direction == types.DirectionShort {
			slip = -slip
		}
		e.slippageTracker(tick.Instrument).RecordFill(slip)
	}

	return Decision{OrderType: orderType, LimitPrice: limitPrice, ClientOrderID: clientOrderID, Response: resp}
}

// resolveOrderType implements spec.md §4.3's order-type resolution: a
// "tsunami" (efficiency and VPIN both extreme) overrides straight to
// market; otherwise place behind a qualifying wall as a limit order if
// one exists, else market. limitOnly forces a limit order regardless of
// the tsunami override once the slippage tracker has auto-promoted the
// instrument.
func resolveOrderType(st *microstructure.InstrumentState, tick types.PriceTick, direction types.Direction, view microstructure.GateView, limitOnly bool) (orderType string, limitPrice float64) {
	if view.Efficiency > tsunamiEfficiency && view.VPIN > tsunamiVPIN && !limitOnly {
		return "MARKET", 0
	}

	mid := tick.Mid()
	pip := 1.0 / tick.Instrument.PipMultiplier()
	// A long wants a support wall below price (buy-majority); a short
	// wants resistance above price (sell-majority).
	wantBuyWall := direction == types.DirectionLong
	below := direction == types.DirectionLong
	wall, ok := st.FindWall(mid, wallSearchMinPips, wallSearchMaxPips, wantBuyWall, below)
	if !ok {
		if limitOnly {
			// No wall to sit behind but limit-only is mandated: rest one
			// pip behind the current mid instead of refusing the trade.
			if direction == types.DirectionLong {
				return "LIMIT", mid - pip
			}
			return "LIMIT", mid + pip
		}
		return "MARKET", 0
	}
	if direction == types.DirectionLong {
		return "LIMIT", wall.Price - wallOffsetPips*pip
	}
	return "LIMIT", wall.Price + wallOffsetPips*pip
}
