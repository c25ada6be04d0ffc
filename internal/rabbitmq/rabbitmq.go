package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

type Config struct {
	URL           string
	Exchange      string   // default asset_events
	Queue         string   // default asset_checkout_queue
	RoutingKeys   []string // bindings; default every known event type
	PrefetchCount int      // default 32
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = broker.Exchange
	}
	if c.Queue == "" {
		c.Queue = broker.Queue
	}
	if len(c.RoutingKeys) == 0 {
		c.RoutingKeys = []string{model.EventTypeAssetCheckedOut.RoutingKey()}
	}
	if c.PrefetchCount <= 0 {
		c.PrefetchCount = 32
	}
	return c
}

// declareTopology makes the durable direct exchange, the durable queue and its bindings.
// Declarations are idempotent, so producer and consumer both run it on connect.
func declareTopology(ch *amqp.Channel, c Config) error {
	if err := ch.ExchangeDeclare(
		c.Exchange, // name
		amqp.ExchangeDirect,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.Exchange, err)
	}

	if _, err := ch.QueueDeclare(
		c.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.Queue, err)
	}

	for _, key := range c.RoutingKeys {
		if err := ch.QueueBind(c.Queue, key, c.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s -> %s (%s): %w", c.Exchange, c.Queue, key, err)
		}
	}
	return nil
}

func dial(c Config) (*amqp.Connection, *amqp.Channel, error) {
	if c.URL == "" {
		return nil, nil, fmt.Errorf("empty RabbitMQ URL")
	}
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch, c); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
