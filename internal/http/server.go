package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/config"
	"github.com/jmehdipour/asset-lifecycle/internal/directory"
	"github.com/jmehdipour/asset-lifecycle/internal/http/middleware"
	"github.com/jmehdipour/asset-lifecycle/internal/relay"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
	"github.com/jmehdipour/asset-lifecycle/internal/service/checkout"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// routeDeps is everything the routes need; tests fill it with fakes.
type routeDeps struct {
	checkout   checkoutService
	outbox     repository.OutboxRepository
	rejections repository.RejectionsRepository
	events     repository.CHEventsRepository // nil when ClickHouse is not configured
	notifier   checkout.Notifier
	rateLimit  echo.MiddlewareFunc
	logLevel   string
}

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, log *zap.Logger) *Server {
	// repos (MySQL)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	rejectionsRepo := repository.NewRejectionsRepository(mysqlDB)

	// repos (ClickHouse)
	var eventsRepo repository.CHEventsRepository
	if clickhouseDB != nil {
		eventsRepo = repository.NewCHEventsRepository(clickhouseDB)
	}

	// collaborators
	var dir checkout.EmployeeDirectory
	if cfg.Directory.BaseURL != "" {
		dir = directory.NewClient(
			cfg.Directory.BaseURL,
			cfg.Directory.Timeout,
			cfg.Directory.Breaker.FailThreshold,
			cfg.Directory.Breaker.OpenFor,
		)
	}
	var notifier checkout.Notifier
	if rds != nil {
		notifier = relay.NewRedisWaker(rds, cfg.Redis.WakeChannel, log)
	}

	// services
	checkoutSvc := checkout.New(mysqlDB, outboxRepo, dir, notifier, log)

	e := newEcho(routeDeps{
		checkout:   checkoutSvc,
		outbox:     outboxRepo,
		rejections: rejectionsRepo,
		events:     eventsRepo,
		notifier:   notifier,
		rateLimit: middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Redis:          rds,
			RPS:            cfg.RateLimit.RPS,
			KeyPrefix:      "rl:ip:",
			Window:         time.Second,
			RetryAfterHint: true,
		}),
		logLevel: cfg.Log.Level,
	}, log)

	return &Server{e: e, log: log}
}

func newEcho(d routeDeps, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(gommonLevel(d.logLevel))
	e.Use(echoMid.Recover(), middleware.RequestID(), middleware.ContextLogger(log), middleware.RequestLogger(log))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rl := d.rateLimit
	if rl == nil {
		rl = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	// intake
	e.POST("/checkout", checkoutHandler(d.checkout), rl)

	// routes
	v1 := e.Group("/v1")
	v1.POST("/checkout", checkoutHandler(d.checkout), rl)
	v1.GET("/reports/events", listEventsHandler(d.events))

	admin := v1.Group("/admin")
	admin.GET("/outbox/failed", listFailedHandler(d.outbox))
	admin.POST("/outbox/:eventId/requeue", requeueHandler(d.outbox, d.notifier))
	admin.GET("/rejections", listRejectionsHandler(d.rejections))

	return e
}

func gommonLevel(level string) glog.Lvl {
	switch level {
	case "debug":
		return glog.DEBUG
	case "warn":
		return glog.WARN
	case "error":
		return glog.ERROR
	default:
		return glog.INFO
	}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// NewMetricsServer serves /metrics and /healthz for worker processes.
func NewMetricsServer(log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return &Server{e: e, log: log}
}
