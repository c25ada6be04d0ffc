package worker

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/bootstrap"
	"github.com/jmehdipour/asset-lifecycle/internal/breaker"
	"github.com/jmehdipour/asset-lifecycle/internal/db"
	"github.com/jmehdipour/asset-lifecycle/internal/metrics"
	"github.com/jmehdipour/asset-lifecycle/internal/relay"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish outbox rows to the broker",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfg, log, err := bootstrap.Load(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) broker producer
	producer, err := bootstrap.NewProducer(cfg.Broker)
	if err != nil {
		return err
	}
	defer producer.Close()

	r := relay.New(repository.NewOutboxRepository(dbx), producer, log)
	r.Breaker = breaker.New(cfg.Relay.Breaker.FailThreshold, cfg.Relay.Breaker.OpenFor)

	// tune knobs
	r.Workers = cfg.Relay.Workers
	r.BatchSize = cfg.Relay.BatchSize
	r.PollInterval = cfg.Relay.PollInterval
	r.PublishTimeout = cfg.Relay.PublishTimeout
	r.ClaimLease = cfg.Relay.ClaimLease
	r.MaxAttempts = cfg.Relay.MaxAttempts
	r.Backoff = relay.Backoff{
		Base:   cfg.Relay.Backoff.Base,
		Factor: cfg.Relay.Backoff.Factor,
		Cap:    cfg.Relay.Backoff.Cap,
	}

	// 4) optional wake signal
	if cfg.Redis.Enabled() {
		rds, err := db.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rds.Close() }()
		r.Wake = relay.NewRedisWaker(rds, cfg.Redis.WakeChannel, log)
	}

	// 5) graceful shutdown
	ctx, stop := bootstrap.SignalContext()
	defer stop()

	serveMetrics(ctx, cfg.Metrics.Addr, log)

	log.Info("relay starting",
		zap.String("broker", cfg.Broker.Driver),
		zap.Bool("wake", r.Wake != nil),
	)
	return r.Run(ctx)
}
