// Package events publishes fire and exit notifications: in-process via
// watermill's gochannel transport for any session-local subscribers
// (diagnostics, tests), and externally to NATS for other services
// (spec.md §4.5, §6).
package events

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Topic names for the in-process bus, matching the external NATS
// subjects minus the configured prefix.
const (
	TopicOrderFired    = "orders.fired"
	TopicPositionClosed = "positions.closed"
)

// FiredEvent is published when the executor successfully places an order.
type FiredEvent struct {
	Instrument string    `json:"instrument"`
	Direction  string    `json:"direction"`
	OrderType  string    `json:"order_type"`
	Confidence float64   `json:"confidence"`
	TsMs       int64     `json:"ts_ms"`
	PublishedAt time.Time `json:"published_at"`
}

// ClosedEvent is published when the exit authority closes a position.
type ClosedEvent struct {
	TradeID    string    `json:"trade_id"`
	Instrument string    `json:"instrument"`
	Reason     string    `json:"reason"`
	PublishedAt time.Time `json:"published_at"`
}

// Bus fans a session's fire/exit events out to both the in-process
// gochannel pub/sub and an external NATS connection.
type Bus struct {
	pubsub      *gochannel.GoChannel
	nc          *nats.Conn
	topicPrefix string
	logger      *zap.Logger
}

// New constructs a Bus. natsURL may be empty to skip external publish
// entirely (useful for tests or single-process deployments).
func New(natsURL, topicPrefix string, logger *zap.Logger) (*Bus, error) {
	wmLogger := watermill.NewStdLoggerWithOut(os.Stdout, false, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          false,
	}, wmLogger)

	b := &Bus{pubsub: pubsub, topicPrefix: topicPrefix, logger: logger}

	if natsURL != "" {
		nc, err := nats.Connect(natsURL, nats.MaxReconnects(10), nats.ReconnectWait(time.Second))
		if err != nil {
			logger.Warn("nats connect failed, continuing with in-process bus only", zap.Error(err))
		} else {
			b.nc = nc
		}
	}
	return b, nil
}

// Subscribe returns the in-process message channel for topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// PublishFired emits a FiredEvent to the in-process bus and, if
// connected, the external "<prefix>orders.fired" NATS subject.
func (b *Bus) PublishFired(ev FiredEvent) error {
	ev.PublishedAt = time.Now()
	return b.publish(TopicOrderFired, ev)
}

// PublishClosed emits a ClosedEvent to the in-process bus and, if
// connected, the external "<prefix>positions.closed" NATS subject.
func (b *Bus) PublishClosed(ev ClosedEvent) error {
	ev.PublishedAt = time.Now()
	return b.publish(TopicPositionClosed, ev)
}

func (b *Bus) publish(topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := message.NewMessage(uuid.NewString(), body)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.Warn("in-process publish failed", zap.Error(err), zap.String("topic", topic))
	}

	if b.nc != nil {
		subject := b.topicPrefix + topic
		if err := b.nc.Publish(subject, body); err != nil {
			b.logger.Warn("nats publish failed", zap.Error(err), zap.String("subject", subject))
		}
	}
	return nil
}

// Close releases the in-process bus and the NATS connection.
func (b *Bus) Close() error {
	if b.nc != nil {
		b.nc.Close()
	}
	return b.pubsub.Close()
}
