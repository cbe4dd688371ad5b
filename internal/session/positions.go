package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/predatorfx/hunter/internal/exit"
	"github.com/predatorfx/hunter/internal/persistence"
	"github.com/predatorfx/hunter/pkg/types"
)

// positionStore adapts persistence.Store's context-taking methods to the
// synchronous exit.PositionStore interface, keeping an in-memory mirror
// so the exit authority's 2-second poll never blocks on a database
// round trip for a simple read.
type positionStore struct {
	store  *persistence.Store
	logger *zap.Logger

	mu                 sync.Mutex
	positions          map[string]types.Position
	closedCount        int
	stopsImprovedCount int
}

func newPositionStore(store *persistence.Store, logger *zap.Logger, initial []types.Position) *positionStore {
	ps := &positionStore{store: store, logger: logger, positions: make(map[string]types.Position, len(initial))}
	for _, p := range initial {
		ps.positions[p.TradeID] = p
	}
	return ps
}

func (ps *positionStore) OpenPositions() []types.Position {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]types.Position, 0, len(ps.positions))
	for _, p := range ps.positions {
		out = append(out, p)
	}
	return out
}

func (ps *positionStore) add(p types.Position) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.positions[p.TradeID] = p
}

func (ps *positionStore) UpdateStop(tradeID string, price float64) {
	ps.mu.Lock()
	p, ok := ps.positions[tradeID]
	if ok {
		p.CurrentStopPrice = price
		ps.positions[tradeID] = p
		ps.stopsImprovedCount++
	}
	ps.mu.Unlock()

	if err := ps.store.UpdateOrderStop(context.Background(), tradeID, price); err != nil {
		ps.logger.Warn("failed to persist stop update", zap.Error(err), zap.String("trade_id", tradeID))
	}
}

func (ps *positionStore) MarkClosed(tradeID string, reason exit.ExitReason, exitPrice float64) {
	ps.mu.Lock()
	delete(ps.positions, tradeID)
	ps.closedCount++
	ps.mu.Unlock()

	if err := ps.store.MarkOrderClosed(context.Background(), tradeID, string(reason), exitPrice); err != nil {
		ps.logger.Warn("failed to persist order close", zap.Error(err), zap.String("trade_id", tradeID))
	}
}

// counts returns the number of positions closed and stops improved over
// this positionStore's lifetime, for the session-end report.
func (ps *positionStore) counts() (closed, stopsImproved int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.closedCount, ps.stopsImprovedCount
}
