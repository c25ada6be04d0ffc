package cmd

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/bootstrap"
	"github.com/jmehdipour/asset-lifecycle/internal/db"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo assets in every status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap.Load(cmd)
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		n, err := seedAssets(sqlDB)
		if err != nil {
			return err
		}

		log.Info("seed completed", zap.Int("assets", n))
		return nil
	},
}

func demoAssets() []model.Asset {
	assigned := int64(7)
	return []model.Asset{
		{ID: 1, Status: model.AssetAvailable},
		{ID: 2, Status: model.AssetAvailable},
		{ID: 3, Status: model.AssetAssigned, AssignedEmployeeID: &assigned},
		{ID: 4, Status: model.AssetMaintenance},
		{ID: 5, Status: model.AssetRetired},
	}
}

// seedAssets upserts the demo assets (idempotent; resets their state).
func seedAssets(dbx *sqlx.DB) (int, error) {
	const q = `
INSERT INTO assets
    (id, status, assigned_employee_id, updated_at)
VALUES
    (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    status               = VALUES(status),
    assigned_employee_id = VALUES(assigned_employee_id),
    updated_at           = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	assets := demoAssets()
	for _, a := range assets {
		if _, err := tx.Exec(q, a.ID, a.Status.String(), a.AssignedEmployeeID, now); err != nil {
			return 0, fmt.Errorf("upsert asset %d: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit assets: %w", err)
	}
	return len(assets), nil
}
