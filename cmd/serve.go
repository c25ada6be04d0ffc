package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/bootstrap"
	"github.com/jmehdipour/asset-lifecycle/internal/db"
	httpSrv "github.com/jmehdipour/asset-lifecycle/internal/http"
	"github.com/jmehdipour/asset-lifecycle/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake and admin HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap.Load(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		// redis and clickhouse are optional: no wake signal / rate limit, no event report
		var redisClient *redis.Client
		if cfg.Redis.Enabled() {
			redisClient, err = db.NewRedis(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = redisClient.Close() }()
		}

		var chDB *sqlx.DB
		if cfg.ClickHouse.Enabled() {
			chDB, err = db.NewClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
		}

		server := httpSrv.NewServer(cfg, mysqlDB, chDB, redisClient, log)

		ctx, stop := bootstrap.SignalContext()
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
				return err
			}
		}

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	},
}
