package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

const maxErrorLen = 1024

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Enqueue writes a PENDING row for env. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Enqueue(ctx context.Context, tx *sqlx.Tx, env model.Envelope) (model.OutboxRow, error)

	// ClaimBatch locks up to limit deliverable rows, oldest first, and marks them
	// SENDING until now+lease. Rows locked by another claimant are skipped.
	ClaimBatch(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]model.OutboxRow, error)

	MarkSent(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, attemptCount int, nextAttemptAt time.Time, lastErr string) error
	MarkExhausted(ctx context.Context, eventID string, attemptCount int, lastErr string) error
	// Release hands a claimed row back without counting an attempt.
	Release(ctx context.Context, eventID string) error

	CountExhausted(ctx context.Context) (int, error)
	ListFailed(ctx context.Context, limit int) ([]model.OutboxRow, error)
	// Requeue resets an exhausted row to PENDING. It reports false when no such row exists.
	Requeue(ctx context.Context, eventID string) (bool, error)
}

// OutboxRepositoryImpl is a sqlx-backed (MySQL 8) implementation.
type OutboxRepositoryImpl struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

const outboxColumns = `event_id, event_type, routing_key, payload, status, attempt_count,
	next_attempt_at, last_error, created_at, updated_at, sent_at`

func (r *OutboxRepositoryImpl) Enqueue(ctx context.Context, tx *sqlx.Tx, env model.Envelope) (model.OutboxRow, error) {
	payload, err := env.Marshal()
	if err != nil {
		return model.OutboxRow{}, fmt.Errorf("marshal envelope: %w", err)
	}

	row := model.OutboxRow{
		EventID:      env.EventID,
		EventType:    env.Type,
		RoutingKey:   env.RoutingKey(),
		Payload:      payload,
		Status:       model.OutboxPending,
		AttemptCount: 0,
		CreatedAt:    env.OccurredAt,
		UpdatedAt:    env.OccurredAt,
	}

	const q = `
		INSERT INTO outbox
		    (event_id, event_type, routing_key, payload, status, attempt_count, created_at, updated_at)
		VALUES
		    (?,        ?,          ?,           ?,       ?,      0,             ?,          ?)
	`
	err = withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			row.EventID, row.EventType.String(), row.RoutingKey, row.Payload,
			row.Status.String(), row.CreatedAt, row.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return model.OutboxRow{}, err
	}
	return row, nil
}

func (r *OutboxRepositoryImpl) ClaimBatch(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]model.OutboxRow, error) {
	if limit <= 0 {
		return nil, nil
	}

	// PENDING rows are due immediately; FAILED rows once their backoff elapsed;
	// SENDING rows only when the claimant that held them died past its lease.
	// Exhausted rows have next_attempt_at = NULL and never match.
	q := `
		SELECT ` + outboxColumns + `
		  FROM outbox
		 WHERE status = 'PENDING'
		    OR (status IN ('FAILED', 'SENDING') AND next_attempt_at <= ?)
		 ORDER BY created_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`

	var rows []model.OutboxRow
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &rows, q, now, limit); err != nil {
			return fmt.Errorf("select claimable: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, rw := range rows {
			ids = append(ids, rw.EventID)
		}

		until := now.Add(lease)
		upd, args, err := sqlx.In(
			`UPDATE outbox SET status = ?, next_attempt_at = ?, updated_at = ? WHERE event_id IN (?)`,
			model.OutboxSending.String(), until, now, ids,
		)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(upd), args...); err != nil {
			return fmt.Errorf("mark sending: %w", err)
		}

		for i := range rows {
			rows[i].Status = model.OutboxSending
			rows[i].NextAttemptAt = &until
			rows[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, eventID string) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		   SET status = 'SENT', sent_at = ?, next_attempt_at = NULL, last_error = NULL, updated_at = ?
		 WHERE event_id = ?
	`, now, now, eventID)
	return err
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, eventID string, attemptCount int, nextAttemptAt time.Time, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		   SET status = 'FAILED', attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		 WHERE event_id = ? AND status = 'SENDING'
	`, attemptCount, nextAttemptAt, truncate(lastErr, maxErrorLen), r.now(), eventID)
	return err
}

func (r *OutboxRepositoryImpl) MarkExhausted(ctx context.Context, eventID string, attemptCount int, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		   SET status = 'FAILED', attempt_count = ?, next_attempt_at = NULL, last_error = ?, updated_at = ?
		 WHERE event_id = ? AND status = 'SENDING'
	`, attemptCount, truncate(lastErr, maxErrorLen), r.now(), eventID)
	return err
}

func (r *OutboxRepositoryImpl) Release(ctx context.Context, eventID string) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		   SET status = IF(attempt_count = 0, 'PENDING', 'FAILED'), next_attempt_at = ?, updated_at = ?
		 WHERE event_id = ? AND status = 'SENDING'
	`, now, now, eventID)
	return err
}

func (r *OutboxRepositoryImpl) CountExhausted(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM outbox WHERE status = 'FAILED' AND next_attempt_at IS NULL
	`)
	return n, err
}

func (r *OutboxRepositoryImpl) ListFailed(ctx context.Context, limit int) ([]model.OutboxRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var rows []model.OutboxRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+outboxColumns+`
		  FROM outbox
		 WHERE status = 'FAILED' AND next_attempt_at IS NULL
		 ORDER BY updated_at DESC
		 LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) Requeue(ctx context.Context, eventID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		   SET status = 'PENDING', attempt_count = 0, next_attempt_at = NULL, last_error = NULL, updated_at = ?
		 WHERE event_id = ? AND status = 'FAILED' AND next_attempt_at IS NULL
	`, r.now(), eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
