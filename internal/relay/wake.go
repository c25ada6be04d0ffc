package relay

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier tells relays that new outbox rows exist. Delivery is best effort;
// relays poll regardless.
type Notifier interface {
	Notify(ctx context.Context)
}

// Listener yields coalesced wake signals until ctx ends.
type Listener interface {
	Listen(ctx context.Context) <-chan struct{}
}

// RedisWaker fans the wake signal out over Redis pub/sub so an intake process
// can nudge relays running elsewhere.
type RedisWaker struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisWaker(rdb *redis.Client, channel string, log *zap.Logger) *RedisWaker {
	if channel == "" {
		channel = "lifecycle:outbox:wake"
	}
	return &RedisWaker{rdb: rdb, channel: channel, log: log}
}

func (w *RedisWaker) Notify(ctx context.Context) {
	if err := w.rdb.Publish(ctx, w.channel, "1").Err(); err != nil {
		w.log.Debug("wake publish failed", zap.Error(err))
	}
}

func (w *RedisWaker) Listen(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := w.rdb.Subscribe(ctx, w.channel)

	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()
	return out
}

// LocalWaker wakes relays running in the same process.
type LocalWaker struct {
	ch chan struct{}
}

func NewLocalWaker() *LocalWaker { return &LocalWaker{ch: make(chan struct{}, 1)} }

func (w *LocalWaker) Notify(context.Context) { signal(w.ch) }

func (w *LocalWaker) Listen(context.Context) <-chan struct{} { return w.ch }

// signal does a non-blocking send; a pending signal already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
