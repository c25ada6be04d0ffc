package relay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/breaker"
	"github.com/jmehdipour/asset-lifecycle/internal/broker"
	"github.com/jmehdipour/asset-lifecycle/internal/metrics"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

var tracer = otel.Tracer("github.com/jmehdipour/asset-lifecycle/internal/relay")

// Relay moves outbox rows to the broker:
// - claims due rows (SKIP LOCKED, leased),
// - publishes each with confirmation,
// - marks SENT, or FAILED with the next attempt time, or exhausted.
type Relay struct {
	// Dependencies
	Outbox   repository.OutboxRepository
	Producer broker.Producer
	Breaker  *breaker.Breaker // optional
	Wake     Listener         // optional
	Log      *zap.Logger

	// Behavior
	Workers        int
	BatchSize      int
	PollInterval   time.Duration
	PublishTimeout time.Duration
	ClaimLease     time.Duration
	MaxAttempts    int
	Backoff        Backoff
	GaugeInterval  time.Duration // how often lifecycle_outbox_exhausted is refreshed

	Now func() time.Time
}

// New builds a relay with sane defaults.
func New(outbox repository.OutboxRepository, producer broker.Producer, log *zap.Logger) *Relay {
	return &Relay{
		Outbox:         outbox,
		Producer:       producer,
		Log:            log,
		Workers:        1,
		BatchSize:      100,
		PollInterval:   time.Second,
		PublishTimeout: 5 * time.Second,
		ClaimLease:     time.Minute,
		MaxAttempts:    10,
		Backoff:        DefaultBackoff,
		GaugeInterval:  15 * time.Second,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

func (r *Relay) normalize() {
	if r.Workers <= 0 {
		r.Workers = 1
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.PollInterval <= 0 {
		r.PollInterval = time.Second
	}
	if r.PublishTimeout <= 0 {
		r.PublishTimeout = 5 * time.Second
	}
	if r.ClaimLease <= 0 {
		r.ClaimLease = time.Minute
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 10
	}
	if r.GaugeInterval <= 0 {
		r.GaugeInterval = 15 * time.Second
	}
	if r.Now == nil {
		r.Now = func() time.Time { return time.Now().UTC() }
	}
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
}

// Run starts the claim loops and blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.Outbox == nil || r.Producer == nil {
		return errors.New("relay: outbox and producer are required")
	}
	r.normalize()

	var wake <-chan struct{}
	if r.Wake != nil {
		wake = r.Wake.Listen(ctx)
	}

	var wg sync.WaitGroup
	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.loop(ctx, id, wake)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.refreshExhausted(ctx)
	}()

	r.Log.Info("relay started",
		zap.Int("workers", r.Workers),
		zap.Int("batch_size", r.BatchSize),
		zap.Duration("poll_interval", r.PollInterval),
		zap.Int("max_attempts", r.MaxAttempts),
	)

	wg.Wait()
	return nil
}

func (r *Relay) loop(ctx context.Context, id int, wake <-chan struct{}) {
	tick := time.NewTicker(r.PollInterval)
	defer tick.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.Log.Warn("relay cycle failed", zap.Int("worker", id), zap.Error(err))
		}

		// a full batch means more is probably due
		if err == nil && n == r.BatchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		case <-wake:
		}
	}
}

// RunOnce claims one batch and publishes it. It returns the number of claimed rows.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	r.normalize()

	if r.Breaker != nil && !r.Breaker.Ready() {
		return 0, nil
	}

	now := r.Now()
	rows, err := r.Outbox.ClaimBatch(ctx, r.BatchSize, now, r.ClaimLease)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	metrics.OutboxTotal.WithLabelValues("claimed").Add(float64(len(rows)))

	for i, row := range rows {
		if ctx.Err() != nil || (r.Breaker != nil && !r.Breaker.TryAcquire()) {
			r.release(ctx, rows[i:])
			break
		}
		r.publish(ctx, row)
	}
	return len(rows), nil
}

func (r *Relay) publish(ctx context.Context, row model.OutboxRow) {
	ctx, span := tracer.Start(ctx, "outbox.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", row.EventID),
		attribute.String("event.type", row.EventType.String()),
		attribute.Int("outbox.attempt", row.AttemptCount+1),
	)

	msg := broker.Message{
		ID:         row.EventID,
		Key:        row.EventID,
		RoutingKey: row.RoutingKey,
		Type:       row.EventType.String(),
		Body:       row.Payload,
		Timestamp:  row.CreatedAt,
	}
	if env, err := model.DecodeEnvelope(row.Payload); err == nil {
		msg.Key = strconv.FormatInt(env.AssetID, 10)
	}

	pctx, cancel := context.WithTimeout(ctx, r.PublishTimeout)
	start := time.Now()
	err := r.Producer.Publish(pctx, msg)
	cancel()

	// bookkeeping must land even when shutdown started mid-publish
	bctx := context.WithoutCancel(ctx)

	if err == nil {
		metrics.PublishSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		if r.Breaker != nil {
			r.Breaker.OnSuccess()
		}
		if merr := r.Outbox.MarkSent(bctx, row.EventID); merr != nil {
			// lease expiry will republish; the consumer dedups
			r.Log.Error("mark sent failed", zap.String("event_id", row.EventID), zap.Error(merr))
			return
		}
		metrics.OutboxTotal.WithLabelValues("sent").Inc()
		return
	}

	metrics.PublishSeconds.WithLabelValues("error").Observe(time.Since(start).Seconds())
	span.RecordError(err)
	span.SetStatus(codes.Error, "publish failed")
	if r.Breaker != nil {
		r.Breaker.OnFailure()
	}

	attempt := row.AttemptCount + 1
	if attempt >= r.MaxAttempts {
		if merr := r.Outbox.MarkExhausted(bctx, row.EventID, attempt, err.Error()); merr != nil {
			r.Log.Error("mark exhausted failed", zap.String("event_id", row.EventID), zap.Error(merr))
			return
		}
		metrics.OutboxTotal.WithLabelValues("exhausted").Inc()
		r.Log.Error("outbox event exhausted its attempts",
			zap.String("event_id", row.EventID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return
	}

	next := r.Now().Add(r.Backoff.Delay(attempt))
	if merr := r.Outbox.MarkFailed(bctx, row.EventID, attempt, next, err.Error()); merr != nil {
		r.Log.Error("mark failed failed", zap.String("event_id", row.EventID), zap.Error(merr))
		return
	}
	metrics.OutboxTotal.WithLabelValues("failed").Inc()
	r.Log.Warn("publish failed, will retry",
		zap.String("event_id", row.EventID),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
		zap.Error(err),
	)
}

func (r *Relay) release(ctx context.Context, rows []model.OutboxRow) {
	bctx := context.WithoutCancel(ctx)
	for _, row := range rows {
		if err := r.Outbox.Release(bctx, row.EventID); err != nil {
			r.Log.Warn("release failed", zap.String("event_id", row.EventID), zap.Error(err))
			continue
		}
		metrics.OutboxTotal.WithLabelValues("released").Inc()
	}
}

func (r *Relay) refreshExhausted(ctx context.Context) {
	tick := time.NewTicker(r.GaugeInterval)
	defer tick.Stop()
	for {
		if n, err := r.Outbox.CountExhausted(ctx); err == nil {
			metrics.OutboxExhausted.Set(float64(n))
		} else if ctx.Err() == nil {
			r.Log.Debug("count exhausted failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
