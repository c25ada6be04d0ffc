package broker

import (
	"context"
	"errors"
	"time"
)

// Topology shared by both drivers.
const (
	Exchange = "asset_events"         // RabbitMQ direct exchange, Kafka topic
	Queue    = "asset_checkout_queue" // RabbitMQ queue bound to asset.checked.out
)

// ErrDelivery wraps every publish failure so callers can tell broker trouble apart from local errors.
var ErrDelivery = errors.New("broker delivery failed")

// Message is one outbox row on its way out.
type Message struct {
	ID         string // event id; AMQP MessageId / Kafka header
	Key        string // ordering key (asset id)
	RoutingKey string
	Type       string
	Body       []byte
	Timestamp  time.Time
}

// Producer publishes with delivery confirmation: a nil error means the broker accepted the message.
type Producer interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}

// Delivery is one received message. Exactly one of Ack or Reject must be called.
type Delivery interface {
	Body() []byte
	// Partition groups deliveries whose acknowledgements must stay in order; -1 means unordered.
	Partition() int
	Ack(ctx context.Context) error
	// Reject drops the message without redelivery.
	Reject(ctx context.Context) error
}

type Subscriber interface {
	Fetch(ctx context.Context) (Delivery, error)
	Close() error
}
