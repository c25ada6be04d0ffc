package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
)

var ErrChannelClosed = errors.New("rabbitmq: delivery channel closed")

// Consumer reads the checkout queue with manual acknowledgement and a prefetch window.
type Consumer struct {
	cfg Config
	tag string

	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ broker.Subscriber = (*Consumer)(nil)

func NewConsumer(c Config, tag string) *Consumer {
	return &Consumer{cfg: c.withDefaults(), tag: tag}
}

func (c *Consumer) stream() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deliveries != nil {
		return c.deliveries, nil
	}

	conn, ch, err := dial(c.cfg)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	ds, err := ch.Consume(
		c.cfg.Queue,
		c.tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	c.conn, c.ch, c.deliveries = conn, ch, ds
	return ds, nil
}

func (c *Consumer) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.ch, c.deliveries = nil, nil, nil
}

// Fetch blocks for the next delivery. After a connection loss it returns
// ErrChannelClosed once; the following call reconnects.
func (c *Consumer) Fetch(ctx context.Context) (broker.Delivery, error) {
	ds, err := c.stream()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-ds:
		if !ok {
			c.drop()
			return nil, ErrChannelClosed
		}
		return &delivery{d: d}, nil
	}
}

func (c *Consumer) Close() error {
	c.drop()
	return nil
}

type delivery struct {
	d amqp.Delivery
}

func (d *delivery) Body() []byte { return d.d.Body }

// Partition is -1: queue acks are per message, any worker may take it.
func (d *delivery) Partition() int { return -1 }

func (d *delivery) Ack(context.Context) error { return d.d.Ack(false) }

func (d *delivery) Reject(context.Context) error { return d.d.Reject(false) }
