package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVWAPTracker_AveragesWithinSameDay(t *testing.T) {
	tr := newVWAPTracker()
	base := int64(1_700_000_000_000) // a fixed UTC instant, same calendar day throughout

	tr.record("EUR_USD", 1.1000, base)
	tr.record("EUR_USD", 1.1010, base+1000)
	tr.record("EUR_USD", 1.1020, base+2000)

	ref, ok := tr.reference("EUR_USD")
	assert.True(t, ok)
	assert.InDelta(t, 1.1010, ref, 1e-9)
}

func TestVWAPTracker_UnknownInstrumentReportsNotFound(t *testing.T) {
	tr := newVWAPTracker()
	_, ok := tr.reference("GBP_USD")
	assert.False(t, ok)
}

func TestVWAPTracker_ResetsAcrossUTCMidnight(t *testing.T) {
	tr := newVWAPTracker()
	dayOneLastMs := int64(1_700_006_399_000) // 23:59:59 UTC
	dayTwoFirstMs := int64(1_700_006_400_000) // 00:00:00 UTC next day

	tr.record("EUR_USD", 1.5000, dayOneLastMs)
	ref, _ := tr.reference("EUR_USD")
	assert.InDelta(t, 1.5000, ref, 1e-9)

	tr.record("EUR_USD", 1.1000, dayTwoFirstMs)
	ref, _ = tr.reference("EUR_USD")
	assert.InDelta(t, 1.1000, ref, 1e-9, "a new UTC day discards the prior day's accumulator")
}

func TestUTCDayKey_DiffersAcrossMidnight(t *testing.T) {
	assert.NotEqual(t, utcDayKey(1_700_006_399_000), utcDayKey(1_700_006_400_000))
}
