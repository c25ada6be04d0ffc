package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpSrv "github.com/jmehdipour/asset-lifecycle/internal/http"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(relayCmd)
	cmd.AddCommand(consumerCmd)

	return cmd
}

// serveMetrics exposes /metrics on addr until ctx is cancelled. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, log *zap.Logger) {
	if addr == "" {
		return
	}
	srv := httpSrv.NewMetricsServer(log)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}
