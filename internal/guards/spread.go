// Package guards implements the per-instrument spread, session-hour, and
// tick-density checks that sit ahead of the gate pipeline and the order
// executor (spec.md §4.3 pre-trade gates, §4.2 gate 1, §2 component 3).
package guards

import (
	"sync"

	talib "github.com/markcheno/go-talib"
)

const (
	spreadWindowSize = 50
	spreadMinSamples = 10
	spreadHardCapPips = 4.0
	spreadRelativeMultiplier = 1.5
)

// SpreadWindow is a fixed-capacity rolling window of spread-pip
// observations for one instrument.
type SpreadWindow struct {
	mu     sync.Mutex
	buffer []float64
	next   int
	filled bool
}

// NewSpreadWindow creates an empty rolling window.
func NewSpreadWindow() *SpreadWindow {
	return &SpreadWindow{buffer: make([]float64, 0, spreadWindowSize)}
}

// Record appends a spread-pip observation, evicting the oldest once the
// window is at capacity.
func (w *SpreadWindow) Record(spreadPips float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) < spreadWindowSize {
		w.buffer = append(w.buffer, spreadPips)
		return
	}
	w.buffer[w.next] = spreadPips
	w.next = (w.next + 1) % spreadWindowSize
	w.filled = true
}

// average returns the rolling average via talib's SMA over the full
// window (a single-period-length SMA call reduces to "average of window"
// without hand-rolling a sum/len accumulator).
func (w *SpreadWindow) average() (avg float64, samples int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	samples = len(w.buffer)
	if samples == 0 {
		return 0, 0
	}
	out := talib.Sma(w.buffer, samples)
	return out[len(out)-1], samples
}

// SpreadGateResult carries the spread-average pre-trade gate's outcome
// for the audit trail (spec.md §4.3).
type SpreadGateResult struct {
	Pass      bool
	Reason    string
	Average   float64
	Samples   int
	Threshold float64
}

// Evaluate implements the spread-average gate: reject if current
// spread-pips exceed 1.5x the rolling average (defaulting to the hard
// cap when fewer than 10 samples), or exceed the absolute 4.0 pip
// ceiling (spec.md §4.3, boundary: strict > at exactly 1.5x).
func (w *SpreadWindow) Evaluate(currentSpreadPips float64) SpreadGateResult {
	if currentSpreadPips > spreadHardCapPips {
		return SpreadGateResult{Pass: false, Reason: "hard max", Threshold: spreadHardCapPips}
	}

	avg, samples := w.average()
	threshold := spreadHardCapPips
	if samples >= spreadMinSamples {
		threshold = avg * spreadRelativeMultiplier
	}

	if currentSpreadPips > threshold {
		return SpreadGateResult{Pass: false, Reason: "relative average", Average: avg, Samples: samples, Threshold: threshold}
	}
	return SpreadGateResult{Pass: true, Average: avg, Samples: samples, Threshold: threshold}
}
