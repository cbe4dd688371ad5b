// Package tick decodes the broker's line-delimited price stream into
// types.PriceTick events, discarding heartbeats and malformed frames
// (spec.md §4.1 Tick Decoder, §6 Broker streaming endpoint).
package tick

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/predatorfx/hunter/pkg/types"
)

// rawRecord is the wire shape of one line of the streaming response.
// Only PRICE records carry bids/asks; HEARTBEAT records carry neither
// and are dropped.
type rawRecord struct {
	Type       string     `json:"type"`
	Instrument string     `json:"instrument"`
	Time       string     `json:"time"`
	Bids       []priceLvl `json:"bids"`
	Asks       []priceLvl `json:"asks"`
}

type priceLvl struct {
	Price string `json:"price"`
}

const recordTypePrice = "PRICE"

// Decoder reads line-delimited JSON records from r and yields PriceTick
// events via Next. It never returns an error for a malformed line:
// malformed lines are silently skipped per spec.md §7.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *zap.Logger

	linesRead     int64
	pricesEmitted int64
	discarded     int64
}

// New creates a Decoder over the given reader (the broker stream's
// response body).
func New(r io.Reader, logger *zap.Logger) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: sc, logger: logger}
}

// Next reads the next PRICE record from the stream. It returns
// (tick, true, nil) on a price tick, (zero, false, nil) on EOF, and
// loops internally past heartbeats and malformed lines so callers never
// see them.
func (d *Decoder) Next() (types.PriceTick, bool, error) {
	for d.scanner.Scan() {
		d.linesRead++
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec rawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			d.discarded++
			if d.logger != nil {
				d.logger.Debug("discarding malformed stream line", zap.Error(err))
			}
			continue
		}

		if rec.Type != recordTypePrice {
			d.discarded++
			continue
		}

		tk, ok := toPriceTick(rec)
		if !ok {
			d.discarded++
			continue
		}
		d.pricesEmitted++
		return tk, true, nil
	}
	if err := d.scanner.Err(); err != nil {
		return types.PriceTick{}, false, err
	}
	return types.PriceTick{}, false, nil
}

func toPriceTick(rec rawRecord) (types.PriceTick, bool) {
	if rec.Instrument == "" || len(rec.Bids) == 0 || len(rec.Asks) == 0 {
		return types.PriceTick{}, false
	}
	bid, err := strconv.ParseFloat(rec.Bids[0].Price, 64)
	if err != nil {
		return types.PriceTick{}, false
	}
	ask, err := strconv.ParseFloat(rec.Asks[0].Price, 64)
	if err != nil {
		return types.PriceTick{}, false
	}
	tsMs := parseTimeMs(rec.Time)

	return types.PriceTick{
		Instrument: types.Instrument(rec.Instrument),
		Bid:        bid,
		Ask:        ask,
		TsMs:       tsMs,
	}, true
}

func parseTimeMs(s string) int64 {
	if s == "" {
		return time.Now().UnixMilli()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli()
	}
	// Some brokers emit fractional unix seconds as a bare string.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f * 1000)
	}
	return time.Now().UnixMilli()
}

// Stats returns the lines-read/prices-emitted/discarded counters for the
// session report's diagnostic section.
func (d *Decoder) Stats() (linesRead, pricesEmitted, discarded int64) {
	return d.linesRead, d.pricesEmitted, d.discarded
}
