package types

// Position is an open trade the exit authority polls and may close or
// re-anchor (spec.md §3, §4.4).
type Position struct {
	TradeID        string
	Instrument     Instrument
	Direction      Direction
	EntryPrice     float64
	Units          int
	OpenedAtMs     int64
	CurrentStopPrice float64
}

// HoldDurationMs returns how long the position has been open as of nowMs.
func (p Position) HoldDurationMs(nowMs int64) int64 {
	return nowMs - p.OpenedAtMs
}
