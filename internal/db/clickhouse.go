package db

import (
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/asset-lifecycle/internal/config"
)

// NewClickHouse opens the event-log store, e.g.
// clickhouse://default:@localhost:9000/lifecycle?dial_timeout=5s&compress=true
func NewClickHouse(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}
	applyPool(db, cfg)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if err := ping(db, timeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return db, nil
}
