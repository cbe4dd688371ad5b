package tick

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_ParsesPriceAndSkipsHeartbeat(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"HEARTBEAT","time":"2024-01-01T00:00:00.000000000Z"}`,
		`{"type":"PRICE","instrument":"EUR_USD","time":"2024-01-01T00:00:00.100000000Z","bids":[{"price":"1.10000"}],"asks":[{"price":"1.10020"}]}`,
		`not json at all`,
		`{"type":"PRICE","instrument":"GBP_JPY","time":"2024-01-01T00:00:00.200000000Z","bids":[{"price":"190.100"}],"asks":[{"price":"190.130"}]}`,
	}, "\n")

	d := New(strings.NewReader(input), nil)

	tk1, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "EUR_USD", string(tk1.Instrument))
	assert.InDelta(t, 1.10000, tk1.Bid, 1e-9)
	assert.InDelta(t, 1.10020, tk1.Ask, 1e-9)

	tk2, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "GBP_JPY", string(tk2.Instrument))

	_, ok, err = d.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	lines, prices, discarded := d.Stats()
	assert.Equal(t, int64(4), lines)
	assert.Equal(t, int64(2), prices)
	assert.Equal(t, int64(2), discarded)
}

func TestDecoder_EmptyStream(t *testing.T) {
	d := New(strings.NewReader(""), nil)
	_, ok, err := d.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}
