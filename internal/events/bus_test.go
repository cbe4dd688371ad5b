package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBus_PublishFiredDeliversOnInProcessSubscription(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus, err := New("", "hunter.", logger)
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicOrderFired)
	require.NoError(t, err)

	require.NoError(t, bus.PublishFired(FiredEvent{Instrument: "EUR_USD", Direction: "long", Confidence: 0.8}))

	select {
	case msg := <-msgs:
		var got FiredEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, "EUR_USD", got.Instrument)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published fired event")
	}
}
