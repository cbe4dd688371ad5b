// Package session implements the orchestrator: the single entry point
// that wires every other package together for one bounded trading
// session (spec.md §4.5).
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/predatorfx/hunter/internal/broker"
	"github.com/predatorfx/hunter/internal/config"
	"github.com/predatorfx/hunter/internal/diagnostics"
	"github.com/predatorfx/hunter/internal/events"
	"github.com/predatorfx/hunter/internal/executor"
	"github.com/predatorfx/hunter/internal/exit"
	"github.com/predatorfx/hunter/internal/guards"
	"github.com/predatorfx/hunter/internal/microstructure"
	"github.com/predatorfx/hunter/internal/persistence"
	"github.com/predatorfx/hunter/internal/predator"
	"github.com/predatorfx/hunter/internal/tick"
	hunterrors "github.com/predatorfx/hunter/pkg/errors"
	"github.com/predatorfx/hunter/pkg/types"
)

// maxStreamSeconds bounds the decode loop so a single session never
// monopolizes the broker's streaming connection (spec.md §4.5 step 6).
const maxStreamSeconds = 110

// Report is the structured summary the orchestrator returns at session
// end (spec.md §4.5 step 9).
type Report struct {
	StartedAt           time.Time
	EndedAt             time.Time
	TicksDecoded        int64
	TicksDiscarded      int64
	SignalsFired        int
	PositionsClosed     int
	StopsImproved       int
	InstrumentSnapshots []microstructure.Snapshot
	TerminationReason   string
}

// Orchestrator owns a single session's lifecycle.
type Orchestrator struct {
	cfg     *config.Config
	client  *broker.Client
	store   *persistence.Store
	bus     *events.Bus
	hub     *diagnostics.Hub
	metrics *diagnostics.GateMetrics
	logger  *zap.Logger

	exec *executor.Executor
	vwap *vwapTracker
}

// New wires one Orchestrator from its dependencies. The caller owns
// opening/closing store and bus; the orchestrator only uses them.
func New(cfg *config.Config, client *broker.Client, store *persistence.Store, bus *events.Bus, hub *diagnostics.Hub, metrics *diagnostics.GateMetrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		client:  client,
		store:   store,
		bus:     bus,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		exec:    executor.New(cfg, client, logger),
		vwap:    newVWAPTracker(),
	}
}

// Run executes the full session lifecycle: instrument-set computation,
// cross-session cooldown seed, open-positions snapshot, stream open,
// bounded decode loop with concurrent exit-authority polling, graceful
// shutdown, and snapshot persistence.
func (o *Orchestrator) Run(parent context.Context) (Report, error) {
	report := Report{StartedAt: time.Now()}

	instruments := o.cfg.InstrumentSet()
	if len(instruments) == 0 {
		return report, hunterrors.New(hunterrors.ErrConfigInvalid, hunterrors.SeverityCritical, "no instruments configured after applying block list")
	}

	states := make(map[types.Instrument]*microstructure.InstrumentState, len(instruments))
	predatorStates := make(map[types.Instrument]*predator.State, len(instruments))
	rateWindows := make(map[types.Instrument]*guards.TickRateWindow, len(instruments))

	lastFires, err := o.store.LastFireTimestamps(parent)
	if err != nil {
		o.logger.Warn("failed to seed cross-session cooldown", zap.Error(err))
		lastFires = map[string]int64{}
	}

	for _, inst := range instruments {
		instrument := types.Instrument(inst)
		states[instrument] = microstructure.New(instrument)
		ps := predator.NewState()
		ps.LastFireTsMs = lastFires[inst]
		predatorStates[instrument] = ps
		rateWindows[instrument] = guards.NewTickRateWindow()
	}

	openPositions, err := o.store.LoadOpenPositions(parent)
	if err != nil {
		o.logger.Warn("failed to load open positions snapshot", zap.Error(err))
		openPositions = nil
	}
	posStore := newPositionStore(o.store, o.logger, openPositions)

	lookup := func(inst types.Instrument) (*microstructure.InstrumentState, bool) {
		st, ok := states[inst]
		return st, ok
	}
	exitAuthority := exit.New(o.cfg, o.client, posStore, lookup, o.vwap.reference, o.logger)

	ctx, cancel := context.WithTimeout(parent, maxStreamSeconds*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := exitAuthority.Run(ctx); err != nil {
			o.logger.Error("exit authority stopped with error", zap.Error(err))
		}
	}()

	stream, err := o.client.OpenStream(ctx, instruments)
	if err != nil {
		cancel()
		wg.Wait()
		report.TerminationReason = "stream_open_failed"
		return report, err
	}
	defer stream.Close()

	decoder := tick.New(bufio.NewReader(stream), o.logger)

	for {
		select {
		case <-ctx.Done():
			report.TerminationReason = "max_stream_duration_elapsed"
			wg.Wait()
			o.finalize(parent, states, posStore, decoder, &report)
			return report, nil
		default:
		}

		priceTick, ok, decErr := decoder.Next()
		if decErr != nil {
			report.TerminationReason = "stream_decode_error"
			wg.Wait()
			o.finalize(parent, states, posStore, decoder, &report)
			return report, decErr
		}
		if !ok {
			report.TerminationReason = "stream_closed"
			wg.Wait()
			o.finalize(parent, states, posStore, decoder, &report)
			return report, nil
		}

		o.handleTick(ctx, priceTick, states, predatorStates, rateWindows, posStore, &report)
	}
}

func (o *Orchestrator) handleTick(
	ctx context.Context,
	priceTick types.PriceTick,
	states map[types.Instrument]*microstructure.InstrumentState,
	predatorStates map[types.Instrument]*predator.State,
	rateWindows map[types.Instrument]*guards.TickRateWindow,
	posStore *positionStore,
	report *Report,
) {
	st, ok := states[priceTick.Instrument]
	if !ok {
		return // instrument not in this session's configured set
	}

	report.TicksDecoded++
	st.Update(priceTick)
	o.exec.RecordTick(priceTick)
	o.vwap.record(priceTick.Instrument, priceTick.Mid(), priceTick.TsMs)
	rateWindows[priceTick.Instrument].Record(priceTick.TsMs)

	signal := predator.Evaluate(o.cfg, st, rateWindows[priceTick.Instrument], predatorStates[priceTick.Instrument], priceTick.TsMs)

	o.hub.Broadcast(signal)
	o.metrics.Observe(string(priceTick.Instrument), string(signal.Direction), signal.RejectedAtGate, signal.Fired, signal.ConsecutivePassCount, signal.Confidence)

	if !signal.Fired {
		return
	}

	decision := o.exec.Execute(ctx, priceTick, st, signal, time.Now())
	if decision.Skipped {
		o.logger.Info("fired signal skipped by pre-trade gate", zap.String("reason", decision.SkipReason), zap.String("instrument", string(priceTick.Instrument)))
		return
	}

	report.SignalsFired++

	requestedPrice := priceTick.Mid()
	slippagePips := (decision.Response.FillPrice - requestedPrice) * priceTick.Instrument.PipMultiplier()
	if slippagePips < 0 {
		slippagePips = -slippagePips
	}

	gatePacket, err := json.Marshal(signal)
	if err != nil {
		o.logger.Warn("failed to marshal gate packet", zap.Error(err))
	}

	order := &persistence.OandaOrder{
		ClientOrderID:     decision.ClientOrderID,
		TradeID:           decision.Response.OrderID,
		UserID:            o.cfg.Trading.AdminUserID,
		Instrument:        string(priceTick.Instrument),
		Direction:         string(signal.Direction),
		OrderType:         decision.OrderType,
		Units:             o.cfg.Trading.BaseOrderUnits,
		Environment:       "live",
		DirectionEngine:   "PREDATOR",
		ConfidenceScore:   signal.Confidence,
		GovernancePayload: string(gatePacket),
		RequestedPrice:    requestedPrice,
		LimitPrice:        decision.LimitPrice,
		FillPrice:         decision.Response.FillPrice,
		StopLossPips:      o.cfg.Trading.BaseStopLossPips,
		TakeProfitPips:    o.cfg.Trading.BaseTakeProfitPips,
		SlippagePips:      slippagePips,
		SpreadAtEntry:     priceTick.SpreadPips(),
		ResponseKind:      string(decision.Response.Kind),
		RejectReason:      decision.Response.RejectReason,
	}
	if err := o.store.WriteOrder(ctx, order); err != nil {
		o.logger.Warn("failed to persist order", zap.Error(err))
	}

	if decision.Response.Kind == broker.ResponseFilled {
		posStore.add(types.Position{
			TradeID:    decision.Response.OrderID,
			Instrument: priceTick.Instrument,
			Direction:  signal.Direction,
			EntryPrice: decision.Response.FillPrice,
			Units:      o.cfg.Trading.BaseOrderUnits,
			OpenedAtMs: priceTick.TsMs,
		})

		audit := &persistence.GateBypassAudit{
			GateID:    "PREDATOR_FIRE:" + string(priceTick.Instrument),
			Reason:    string(gatePacket),
			ExpiresAt: time.Now().Add(5 * time.Minute), // mirrors the gate pipeline's cooldown window
			CreatedBy: "predator_pipeline",
		}
		if err := o.store.WriteGateAudit(ctx, audit); err != nil {
			o.logger.Warn("failed to write gate audit row", zap.Error(err))
		}

		if err := o.bus.PublishFired(events.FiredEvent{
			Instrument: string(priceTick.Instrument),
			Direction:  string(signal.Direction),
			OrderType:  decision.OrderType,
			Confidence: signal.Confidence,
			TsMs:       priceTick.TsMs,
		}); err != nil {
			o.logger.Warn("failed to publish fired event", zap.Error(err))
		}
	}
}

// finalize persists an end-of-session snapshot for every instrument and
// fills in the report's exit-authority and decoder counters.
func (o *Orchestrator) finalize(ctx context.Context, states map[types.Instrument]*microstructure.InstrumentState, posStore *positionStore, decoder *tick.Decoder, report *Report) {
	report.EndedAt = time.Now()
	report.PositionsClosed, report.StopsImproved = posStore.counts()
	_, _, report.TicksDiscarded = decoder.Stats()
	for inst, st := range states {
		snap := st.Snapshot()
		report.InstrumentSnapshots = append(report.InstrumentSnapshots, snap)
		row := &persistence.InstrumentSnapshot{
			MemoryType:   "instrument_state",
			MemoryKey:    string(inst),
			Instrument:   snap.Instrument,
			D1:           snap.D1,
			D2:           snap.D2,
			Hurst:        snap.Hurst,
			VPIN:         snap.VPIN,
			ZOFI:         snap.ZOFI,
			Efficiency:   snap.Efficiency,
			MarketState:  snap.State,
			TickCount:    snap.TickCount,
			RunningBuys:  snap.RunningBuys,
			RunningSells: snap.RunningSells,
			LevelCount:   snap.LevelCount,
		}
		if err := o.store.UpsertSnapshot(ctx, row); err != nil {
			o.logger.Warn("failed to persist instrument snapshot", zap.Error(err), zap.String("instrument", string(inst)))
		}
	}
}
