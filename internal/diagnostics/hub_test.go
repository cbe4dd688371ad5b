package diagnostics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/predatorfx/hunter/internal/predator"
)

func TestHub_BroadcastToNoClientsIsNoOp(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	assert.Equal(t, 0, h.ClientCount())
	h.Broadcast(predator.Result{Instrument: "EUR_USD"})
}

func TestHub_ClientReceivesBroadcastPacket(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine time to register the connection.
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Broadcast(predator.Result{Instrument: "EUR_USD", Fired: true, Confidence: 0.9})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(body), "EUR_USD")
}

func TestGateMetrics_ObserveRejectionAndFire(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGateMetrics(reg)

	m.Observe("EUR_USD", "", "liquidity", false, 0, 0)
	m.Observe("EUR_USD", "long", "", true, 3, 0.75)

	count, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, count)
}
