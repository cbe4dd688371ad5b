package guards

import "time"

// SessionHourBlocked implements the late-session/rollover blackout of
// spec.md §4.3 and §9's open question: the five-hour block
// {20,21,22,23,0} UTC is the intended rule, not the unreachable
// `utcHour < 0` variant from a prior revision.
func SessionHourBlocked(now time.Time) bool {
	h := now.UTC().Hour()
	return h >= 20 || h < 1
}
