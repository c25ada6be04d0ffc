package worker

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/bootstrap"
	"github.com/jmehdipour/asset-lifecycle/internal/db"
	"github.com/jmehdipour/asset-lifecycle/internal/metrics"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
	"github.com/jmehdipour/asset-lifecycle/internal/worker"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Apply lifecycle events to asset state",
	RunE:  runConsumer,
}

func runConsumer(cmd *cobra.Command, args []string) error {
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

	// 3) broker subscription
	host, _ := os.Hostname()
	sub, err := bootstrap.NewSubscriber(cfg.Broker, "lifecycle-consumer-"+host)
	if err != nil {
		return err
	}
	defer sub.Close()

	c := worker.NewConsumer(sub, repository.NewAssetsRepository(dbx), log)

	// tune knobs
	c.Workers = cfg.Consumer.Workers
	c.RetryMaxInterval = cfg.Consumer.RetryMaxInterval

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	// 4) optional event log (ClickHouse)
	if cfg.ClickHouse.Enabled() {
		chDB, err := db.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		audit := worker.NewAuditWriter(
			repository.NewCHEventsRepository(chDB),
			log,
			cfg.Consumer.AuditBatchSize,
			cfg.Consumer.AuditBatchWait,
		)
		done := make(chan struct{})
		go func() { audit.Run(ctx); close(done) }()
		defer func() { stop(); <-done }()
		c.Audit = audit
	}

	serveMetrics(ctx, cfg.Metrics.Addr, log)

	log.Info("consumer starting",
		zap.String("broker", cfg.Broker.Driver),
		zap.Int("workers", c.Workers),
		zap.Bool("event_log", c.Audit != nil),
	)
	return c.Run(ctx)
}
