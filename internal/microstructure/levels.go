package microstructure

import (
	"math"

	"github.com/predatorfx/hunter/pkg/types"
)

// updateLevel upserts the bucketed price-level map (spec.md §4.1 step 10,
// §3 LevelInfo invariants). Caller already holds s.mu.
func (s *InstrumentState) updateLevel(mid float64, tsMs int64, side types.Side) {
	bucket := s.Instrument.LevelBucket()
	levelPrice := math.Round(mid/bucket) * bucket

	lv, ok := s.PriceLevels[levelPrice]
	if !ok {
		lv = &LevelInfo{}
		s.PriceLevels[levelPrice] = lv
	}

	lv.Hits++
	if side == types.SideBuy {
		lv.Buys++
	} else {
		lv.Sells++
	}

	if !lv.Broken {
		if lv.Hits > 1 && side == lv.LastDirection {
			lv.ConsecutiveSameDir++
			if lv.ConsecutiveSameDir >= 3 && lv.Hits > 2 {
				lv.Broken = true
			}
		} else {
			if lv.Hits > 2 {
				lv.Bounces++
			}
			lv.ConsecutiveSameDir = 1
		}
	}
	lv.LastDirection = side
	lv.LastTsMs = tsMs

	s.evictIfOverCapacity(mid)
}

// evictIfOverCapacity drops the levels farthest from mid until the map
// size is within priceLevelMemory (spec.md §4.1 step 10, §3 invariant).
func (s *InstrumentState) evictIfOverCapacity(mid float64) {
	if len(s.PriceLevels) <= priceLevelMemory {
		return
	}
	type distPrice struct {
		price float64
		dist  float64
	}
	entries := make([]distPrice, 0, len(s.PriceLevels))
	for price := range s.PriceLevels {
		entries = append(entries, distPrice{price, math.Abs(price - mid)})
	}
	// Partial selection sort: only need to evict the excess count, which
	// is small relative to the map on any single tick.
	excess := len(s.PriceLevels) - priceLevelMemory
	for i := 0; i < excess; i++ {
		farthest := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].dist > entries[farthest].dist {
				farthest = j
			}
		}
		entries[i], entries[farthest] = entries[farthest], entries[i]
		delete(s.PriceLevels, entries[i].price)
	}
}

// LevelAt returns the LevelInfo at a given price bucket, if present.
func (s *InstrumentState) LevelAt(price float64) (LevelInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.Instrument.LevelBucket()
	levelPrice := math.Round(price/bucket) * bucket
	lv, ok := s.PriceLevels[levelPrice]
	if !ok {
		return LevelInfo{}, false
	}
	return *lv, true
}

// WallCandidate describes a scored price-level wall within range of mid.
type WallCandidate struct {
	Price float64
	Hits  int
	Net   int
	Score float64
}

// FindWall scans price_levels within [minPipRadius, maxPipRadius] of mid
// for the strongest qualifying wall on the requested side (spec.md §4.4
// stop-loss anchoring, §4.3 order-type resolution "wall" definition):
// hits>=3 and a directional majority on the requested side.
// wantBuySideWall requests levels whose majority is buys (support, below
// price for longs); false requests a sell-majority wall (resistance,
// above price for shorts). A zero minPipRadius disables the inner floor.
func (s *InstrumentState) FindWall(mid, minPipRadius, maxPipRadius float64, wantBuySideWall bool, below bool) (WallCandidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pipMul := s.Instrument.PipMultiplier()
	minRadius := minPipRadius / pipMul
	maxRadius := maxPipRadius / pipMul

	var best WallCandidate
	found := false
	for price, lv := range s.PriceLevels {
		if lv.Hits < 3 {
			continue
		}
		dist := math.Abs(price - mid)
		if dist > maxRadius || dist < minRadius {
			continue
		}
		if below && price >= mid {
			continue
		}
		if !below && price <= mid {
			continue
		}
		net := lv.NetSigned()
		isBuyMajority := net > 0
		if wantBuySideWall != isBuyMajority {
			continue
		}
		score := math.Abs(float64(net)) * float64(lv.Hits)
		if !found || score > best.Score {
			best = WallCandidate{Price: price, Hits: lv.Hits, Net: net, Score: score}
			found = true
		}
	}
	return best, found
}
