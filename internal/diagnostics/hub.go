// Package diagnostics exposes the engine's internal state for
// observability: a websocket broadcast hub streaming gate-audit
// packets, and Prometheus counters/gauges for gate outcomes (spec.md §6).
package diagnostics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/predatorfx/hunter/internal/predator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks connected diagnostic websocket clients and fans out gate
// audit packets to all of them, mirroring the connection-map-plus-mutex
// shape of internal/marketdata/external/binance.go's WebSocketConnections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	logger  *zap.Logger
}

// NewHub constructs an empty diagnostics hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// ServeHTTP upgrades the connection and registers it for broadcasts
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("diagnostics websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.drainUntilClosed(conn)
}

// drainUntilClosed discards inbound client frames (this hub is
// publish-only) and deregisters the connection once the client closes it.
func (h *Hub) drainUntilClosed(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// gatePacket is the wire shape broadcast to diagnostic clients.
type gatePacket struct {
	Instrument           string          `json:"instrument"`
	Gates                []predator.Gate `json:"gates"`
	RejectedAtGate       string          `json:"rejected_at_gate,omitempty"`
	Fired                bool            `json:"fired"`
	Direction             string          `json:"direction,omitempty"`
	Confidence           float64         `json:"confidence,omitempty"`
	ConsecutivePassCount int             `json:"consecutive_pass_count"`
	BroadcastAt          time.Time       `json:"broadcast_at"`
}

// Broadcast sends a gate-audit packet to every connected client,
// dropping any client whose write fails rather than blocking the caller.
func (h *Hub) Broadcast(res predator.Result) {
	packet := gatePacket{
		Instrument:           string(res.Instrument),
		Gates:                res.Gates,
		RejectedAtGate:       res.RejectedAtGate,
		Fired:                res.Fired,
		Direction:             string(res.Direction),
		Confidence:           res.Confidence,
		ConsecutivePassCount: res.ConsecutivePassCount,
		BroadcastAt:          time.Now(),
	}
	body, err := json.Marshal(packet)
	if err != nil {
		h.logger.Warn("failed to marshal gate packet", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			h.logger.Debug("dropping diagnostics client after write failure", zap.Error(err))
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
