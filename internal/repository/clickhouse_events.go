package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

// EventLogFilter narrows ListEvents; zero values match everything.
type EventLogFilter struct {
	AssetID int64
	Outcome model.Outcome
	Since   time.Time
	Limit   int
	Offset  int
}

// CHEventsRepository stores and lists consumer outcomes in ClickHouse.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, recs []model.AuditRecord) error
	List(ctx context.Context, f EventLogFilter) ([]model.AuditRecord, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

// InsertBatch sends recs as one native batch (prepare inside a tx, commit flushes).
func (r *chEventsRepository) InsertBatch(ctx context.Context, recs []model.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lifecycle.event_log
		    (event_id, event_type, asset_id, employee_id, outcome, reason, occurred_at, processed_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.EventID, rec.EventType, rec.AssetID, rec.EmployeeID,
			rec.Outcome.String(), rec.Reason, rec.OccurredAt, rec.ProcessedAt,
		); err != nil {
			return fmt.Errorf("append %s: %w", rec.EventID, err)
		}
	}
	return tx.Commit()
}

func (r *chEventsRepository) List(ctx context.Context, f EventLogFilter) ([]model.AuditRecord, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT event_id, event_type, asset_id, employee_id, outcome, reason, occurred_at, processed_at
		FROM lifecycle.event_log
		WHERE 1 = 1
	`
	var args []any

	if f.AssetID > 0 {
		q += " AND asset_id = ?"
		args = append(args, f.AssetID)
	}
	if f.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, f.Outcome.String())
	}
	if !f.Since.IsZero() {
		q += " AND processed_at >= ?"
		args = append(args, f.Since)
	}

	q += " ORDER BY processed_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.AuditRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
