package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

// RejectionsRepository reads events the consumer refused on business rules.
type RejectionsRepository interface {
	List(ctx context.Context, assetID int64, limit, offset int) ([]model.RejectedEvent, error)
}

type rejectionsRepository struct {
	db *sqlx.DB
}

func NewRejectionsRepository(db *sqlx.DB) RejectionsRepository {
	return &rejectionsRepository{db: db}
}

func (r *rejectionsRepository) List(ctx context.Context, assetID int64, limit, offset int) ([]model.RejectedEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT event_id, asset_id, employee_id, reason, payload, rejected_at
		FROM rejected_events
	`
	var args []any
	if assetID > 0 {
		q += " WHERE asset_id = ?"
		args = append(args, assetID)
	}
	q += " ORDER BY rejected_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.RejectedEvent
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func insertRejection(ctx context.Context, tx *sqlx.Tx, env model.Envelope, reason string, at time.Time) error {
	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rejected_events (event_id, asset_id, employee_id, reason, payload, rejected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, env.EventID, env.AssetID, env.EmployeeID, reason, payload, at); err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}
