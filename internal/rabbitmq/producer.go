package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
)

// Producer publishes persistent messages in confirm mode. The connection is
// opened on first use and dropped after any channel error, so the next
// Publish reconnects.
type Producer struct {
	cfg Config

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ broker.Producer = (*Producer)(nil)

func NewProducer(c Config) *Producer {
	return &Producer{cfg: c.withDefaults()}
}

func (p *Producer) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, ch, err := dial(p.cfg)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Producer) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Publish returns once the broker confirmed the message, or an ErrDelivery on nack/timeout/connection loss.
func (p *Producer) Publish(ctx context.Context, m broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrDelivery, err)
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		p.cfg.Exchange,
		m.RoutingKey,
		false, // mandatory
		false, // immediate
		toPublishing(m),
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("%w: publish %s: %v", broker.ErrDelivery, m.ID, err)
	}

	err = awaitConfirm(ctx, dc, m.ID)
	if errors.Is(err, errConfirmLost) {
		// the confirm may still arrive on this channel; start clean
		p.reset()
	}
	return err
}

// toPublishing makes the event id the AMQP message id so consumers and the
// broker can deduplicate on it.
func toPublishing(m broker.Message) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Type:         m.Type,
		Timestamp:    m.Timestamp,
		Headers:      amqp.Table{"asset-id": m.Key},
		Body:         m.Body,
	}
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

var errConfirmLost = errors.New("confirm not received")

// awaitConfirm maps a publisher confirm to a delivery error. A nack is a
// failed delivery; a missing confirm also wraps errConfirmLost.
func awaitConfirm(ctx context.Context, dc confirmation, id string) error {
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w %s: %v", broker.ErrDelivery, errConfirmLost, id, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked %s", broker.ErrDelivery, id)
	}
	return nil
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
