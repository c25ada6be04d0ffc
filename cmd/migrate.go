package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/bootstrap"
	"github.com/jmehdipour/asset-lifecycle/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the development schema (MySQL, and ClickHouse when configured)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap.Load(cmd)
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if err := execFile(sqlDB, filepath.Join("migrations", "001_init.sql")); err != nil {
			return err
		}
		log.Info("mysql schema ready")

		if cfg.ClickHouse.Enabled() {
			chDB, err := db.NewClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer chDB.Close()

			if err := execFile(chDB, filepath.Join("migrations", "clickhouse", "001_event_log.sql")); err != nil {
				return err
			}
			log.Info("clickhouse schema ready")
		}

		log.Info("migration complete", zap.String("mysql", "001_init.sql"))
		return nil
	},
}

// execFile runs each ;-terminated statement of a bootstrap DDL file.
func execFile(dbx *sqlx.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", path, err)
	}

	for _, stmt := range splitStatements(string(b)) {
		if _, err := dbx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %s: %w", path, err)
		}
	}
	return nil
}

func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		var lines []string
		for _, l := range strings.Split(part, "\n") {
			if t := strings.TrimSpace(l); t == "" || strings.HasPrefix(t, "--") {
				continue
			}
			lines = append(lines, l)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
