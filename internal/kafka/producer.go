package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
)

const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

// Producer writes envelopes keyed by asset id so one asset's events share a partition.
type Producer struct {
	w messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ broker.Producer = (*Producer)(nil)

func NewProducerFromConfig(c Config) *Producer {
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           wt,
		AllowAutoTopicCreation: true,
	}
	return &Producer{w: w}
}

// toMessage keys by asset id and carries the event id as the idempotency header.
func toMessage(m broker.Message) kafka.Message {
	return kafka.Message{
		Key:   []byte(m.Key),
		Value: m.Body,
		Time:  m.Timestamp,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(m.ID)},
			{Key: HeaderEventType, Value: []byte(m.Type)},
		},
	}
}

func (p *Producer) Publish(ctx context.Context, m broker.Message) error {
	if err := p.w.WriteMessages(ctx, toMessage(m)); err != nil {
		return fmt.Errorf("%w: kafka write %s: %v", broker.ErrDelivery, m.ID, err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
