package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
	"github.com/jmehdipour/asset-lifecycle/internal/metrics"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

var tracer = otel.Tracer("github.com/jmehdipour/asset-lifecycle/internal/worker")

// AuditSink receives one record per handled delivery. Implementations must not block.
type AuditSink interface {
	Record(rec model.AuditRecord)
}

// Consumer:
// - fetches envelopes from the broker,
// - applies each to the asset store exactly once (dedup + transition in one tx),
// - acks only after the transaction committed.
type Consumer struct {
	// Dependencies
	Subscriber broker.Subscriber
	Assets     repository.AssetsRepository
	Audit      AuditSink // optional
	Log        *zap.Logger

	// Behavior
	Workers              int           // shards; deliveries of one partition stay on one shard
	RetryInitialInterval time.Duration // transient store errors
	RetryMaxInterval     time.Duration

	Now func() time.Time
}

// NewConsumer builds a consumer with sane defaults.
func NewConsumer(sub broker.Subscriber, assets repository.AssetsRepository, log *zap.Logger) *Consumer {
	return &Consumer{
		Subscriber:           sub,
		Assets:               assets,
		Log:                  log,
		Workers:              8,
		RetryInitialInterval: 200 * time.Millisecond,
		RetryMaxInterval:     30 * time.Second,
		Now:                  func() time.Time { return time.Now().UTC() },
	}
}

func (c *Consumer) normalize() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 200 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

// Run starts the fetch loop and the shard workers and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Subscriber == nil || c.Assets == nil {
		return errors.New("consumer: subscriber and asset store are required")
	}
	c.normalize()

	shards := make([]chan broker.Delivery, c.Workers)
	for i := range shards {
		shards[i] = make(chan broker.Delivery, 2)
	}

	var wg sync.WaitGroup
	for i := range shards {
		wg.Add(1)
		go func(in <-chan broker.Delivery) {
			defer wg.Done()
			for d := range in {
				_, _ = c.Handle(ctx, d)
			}
		}(shards[i])
	}

	c.Log.Info("consumer started", zap.Int("workers", c.Workers))

	// Fetcher
	var rr int
	for {
		d, err := c.Subscriber.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.Log.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		idx := d.Partition()
		if idx < 0 {
			idx = rr
			rr++
		}
		select {
		case shards[idx%c.Workers] <- d:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	for _, s := range shards {
		close(s)
	}
	wg.Wait()
	return nil
}

// Handle processes one delivery and returns its outcome. A non-nil error means
// the delivery was left unacknowledged for redelivery.
func (c *Consumer) Handle(ctx context.Context, d broker.Delivery) (model.Outcome, error) {
	c.normalize()

	env, err := model.DecodeEnvelope(d.Body())
	if err != nil {
		return c.drop(ctx, d, err), nil
	}

	ctx, span := tracer.Start(ctx, "asset.apply_checkout", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", env.EventID),
		attribute.Int64("asset.id", env.AssetID),
	)

	var res model.ApplyResult
	op := func() error {
		var err error
		res, err = c.Assets.ApplyCheckout(ctx, env, c.Now())
		if errors.Is(err, model.ErrMalformedEvent) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryInitialInterval
	b.MaxInterval = c.RetryMaxInterval
	b.MaxElapsedTime = 0 // retry until the store recovers or we shut down

	notify := func(err error, wait time.Duration) {
		c.Log.Warn("apply failed, retrying",
			zap.String("event_id", env.EventID),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		span.RecordError(err)
		if errors.Is(err, model.ErrMalformedEvent) {
			return c.drop(ctx, d, err), nil
		}
		return "", err
	}

	metrics.ConsumerTotal.WithLabelValues(res.Outcome.String()).Inc()
	span.SetAttributes(attribute.String("event.outcome", res.Outcome.String()))

	switch res.Outcome {
	case model.OutcomeRejected:
		c.Log.Warn("checkout rejected",
			zap.String("event_id", env.EventID),
			zap.Int64("asset_id", env.AssetID),
			zap.Int64("employee_id", env.EmployeeID),
			zap.String("reason", res.Reason),
		)
	case model.OutcomeDuplicate:
		c.Log.Debug("duplicate event", zap.String("event_id", env.EventID))
	default:
		c.Log.Info("checkout applied",
			zap.String("event_id", env.EventID),
			zap.Int64("asset_id", env.AssetID),
			zap.Int64("employee_id", env.EmployeeID),
		)
	}

	if c.Audit != nil {
		c.Audit.Record(model.AuditRecord{
			EventID:     env.EventID,
			EventType:   env.Type.String(),
			AssetID:     env.AssetID,
			EmployeeID:  env.EmployeeID,
			Outcome:     res.Outcome,
			Reason:      res.Reason,
			OccurredAt:  env.OccurredAt,
			ProcessedAt: c.Now(),
		})
	}

	// committed; a failed ack only means a redelivery the dedup ledger absorbs
	if err := d.Ack(ctx); err != nil {
		c.Log.Error("ack failed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	return res.Outcome, nil
}

// drop rejects a delivery that can never be applied so it stops blocking its shard.
func (c *Consumer) drop(ctx context.Context, d broker.Delivery, cause error) model.Outcome {
	metrics.ConsumerTotal.WithLabelValues(model.OutcomeMalformed.String()).Inc()
	c.Log.Warn("dropping malformed event", zap.Error(cause), zap.Int("bytes", len(d.Body())))
	if err := d.Reject(ctx); err != nil {
		c.Log.Error("reject failed", zap.Error(err))
	}
	return model.OutcomeMalformed
}
