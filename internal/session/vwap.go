package session

import (
	"sync"
	"time"

	"github.com/predatorfx/hunter/pkg/types"
)

// vwapTracker is the session-anchored volume-weighted reference tracker
// spec.md §3 names as session-owned state: a tick-weighted running mean
// of mid price per instrument, reset whenever the UTC calendar day
// rolls over (spec.md §4.4 step 3's out-of-range stop failsafe).
type vwapTracker struct {
	mu           sync.Mutex
	byInstrument map[types.Instrument]*vwapAccumulator
}

type vwapAccumulator struct {
	dayKey int
	sum    float64
	count  int64
}

func newVWAPTracker() *vwapTracker {
	return &vwapTracker{byInstrument: make(map[types.Instrument]*vwapAccumulator)}
}

// record folds one tick's mid price into the running average, resetting
// the accumulator if the tick crosses into a new UTC day.
func (t *vwapTracker) record(inst types.Instrument, mid float64, tsMs int64) {
	day := utcDayKey(tsMs)

	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.byInstrument[inst]
	if !ok || acc.dayKey != day {
		acc = &vwapAccumulator{dayKey: day}
		t.byInstrument[inst] = acc
	}
	acc.sum += mid
	acc.count++
}

// reference returns the current session-anchored price reference for an
// instrument, and whether any tick has been recorded for it yet today.
func (t *vwapTracker) reference(inst types.Instrument) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.byInstrument[inst]
	if !ok || acc.count == 0 {
		return 0, false
	}
	return acc.sum / float64(acc.count), true
}

func utcDayKey(tsMs int64) int {
	ts := time.UnixMilli(tsMs).UTC()
	return ts.Year()*1000 + ts.YearDay()
}
