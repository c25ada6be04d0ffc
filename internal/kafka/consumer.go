package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously on Ack
	MaxWait        time.Duration // default 50ms
	WriteTimeout   time.Duration // producer; default 5s
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r *kafka.Reader
}

var _ broker.Subscriber = (*Consumer)(nil)

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}

	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
	})

	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (broker.Delivery, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &delivery{r: c.r, m: m}, nil
}

func (c *Consumer) Close() error { return c.r.Close() }

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type delivery struct {
	r committer
	m kafka.Message
}

func (d *delivery) Body() []byte   { return d.m.Value }
func (d *delivery) Partition() int { return d.m.Partition }

func (d *delivery) Ack(ctx context.Context) error {
	return d.r.CommitMessages(ctx, d.m)
}

// Reject commits too: Kafka has no per-message drop, skipping the offset is the drop.
func (d *delivery) Reject(ctx context.Context) error {
	return d.r.CommitMessages(ctx, d.m)
}
