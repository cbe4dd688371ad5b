// Package predator implements the ordered gate pipeline ("Predatory
// Hunter") of spec.md §4.2: a pure function of instrument state, the
// short recent-direction window, hysteresis state, and wall-clock time
// that decides whether a tick earns a trade signal.
package predator

import (
	"sync"

	"github.com/predatorfx/hunter/pkg/types"
)

// State is the per-instrument hysteresis carried across ticks
// (spec.md §3 PredatorState): consecutive_pass_count, last_pass_direction,
// last_fire_ts_ms.
type State struct {
	mu sync.Mutex

	ConsecutivePassCount int
	LastPassDirection    types.Direction
	LastFireTsMs         int64
}

// NewState returns a zeroed hysteresis state for one instrument.
func NewState() *State {
	return &State{LastPassDirection: types.DirectionNone}
}

// recordPass advances the consecutive-pass counter, resetting it when
// the direction flips (a flip is not a continuation of the same signal).
func (s *State) recordPass(direction types.Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if direction != s.LastPassDirection {
		s.ConsecutivePassCount = 0
	}
	s.ConsecutivePassCount++
	s.LastPassDirection = direction
	return s.ConsecutivePassCount
}

func (s *State) recordReject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutivePassCount = 0
	s.LastPassDirection = types.DirectionNone
}

func (s *State) recordFire(nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastFireTsMs = nowMs
	s.ConsecutivePassCount = 0
}

func (s *State) sinceLastFireMs(nowMs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastFireTsMs == 0 {
		return cooldownMs + 1
	}
	return nowMs - s.LastFireTsMs
}
