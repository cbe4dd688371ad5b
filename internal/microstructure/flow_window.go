package microstructure

import (
	"math"

	"github.com/predatorfx/hunter/pkg/types"
)

const flowWindowSize = 20

// flowWindow is the "short-window recent-direction view" spec.md §4.2
// requires the gate pipeline's flow-direction predicate to consult. It
// is bookkeeping alongside the twelve-step recursion, not part of it:
// recording the classified side of the current tick never reads a field
// that a later recursion step produces.
type flowWindow struct {
	sides [flowWindowSize]types.Side
	count int
	next  int
}

func (f *flowWindow) record(side types.Side) {
	f.sides[f.next] = side
	f.next = (f.next + 1) % flowWindowSize
	if f.count < flowWindowSize {
		f.count++
	}
}

func (f *flowWindow) buySellCounts() (buys, sells int) {
	for i := 0; i < f.count; i++ {
		if f.sides[i] == types.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	return
}

// FlowRatio returns the last-up-to-20-tick buys/sells ratio used by
// gate pipeline predicate 3 (spec.md §4.2). A zero denominator with a
// nonzero numerator reports +Inf (pure buy flow); a fully empty window
// reports 1 (neutral, rejected by both thresholds).
func (s *InstrumentState) FlowRatio() (ratio float64, buys, sells int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buys, sells = s.flow.buySellCounts()
	if sells == 0 && buys == 0 {
		return 1, 0, 0
	}
	if sells == 0 {
		return math.Inf(1), buys, sells
	}
	return float64(buys) / float64(sells), buys, sells
}
