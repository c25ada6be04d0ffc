package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/asset-lifecycle/internal/db"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

// ErrAssetNotFound is returned by Get for unknown ids.
var ErrAssetNotFound = errors.New("asset not found")

// AssetsRepository owns the asset state table and the consumer's dedup ledger.
type AssetsRepository interface {
	Get(ctx context.Context, id int64) (*model.Asset, error)

	// ApplyCheckout applies one AssetCheckedOut envelope exactly once. The dedup
	// check, the state transition (or rejection record) and the processed marker
	// commit together; a returned error means nothing was committed. Values the
	// tables cannot hold are reported as model.ErrMalformedEvent.
	ApplyCheckout(ctx context.Context, env model.Envelope, now time.Time) (model.ApplyResult, error)
}

type AssetsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAssetsRepository(db *sqlx.DB) *AssetsRepositoryImpl {
	return &AssetsRepositoryImpl{db: db}
}

var _ AssetsRepository = (*AssetsRepositoryImpl)(nil)

func (r *AssetsRepositoryImpl) Get(ctx context.Context, id int64) (*model.Asset, error) {
	var a model.Asset
	err := r.db.GetContext(ctx, &a, `
		SELECT id, status, assigned_employee_id, updated_at FROM assets WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AssetsRepositoryImpl) ApplyCheckout(ctx context.Context, env model.Envelope, now time.Time) (model.ApplyResult, error) {
	var res model.ApplyResult

	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var seen int
		err := tx.GetContext(ctx, &seen, `SELECT 1 FROM processed_events WHERE event_id = ?`, env.EventID)
		switch {
		case err == nil:
			res = model.ApplyResult{Outcome: model.OutcomeDuplicate}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("dedup lookup: %w", err)
		}

		var current model.Asset
		err = tx.GetContext(ctx, &current, `
			SELECT id, status, assigned_employee_id, updated_at FROM assets WHERE id = ? FOR UPDATE
		`, env.AssetID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res = model.ApplyResult{Outcome: model.OutcomeRejected, Reason: model.ReasonAssetNotFound}
		case err != nil:
			return fmt.Errorf("lock asset: %w", err)
		default:
			next, terr := current.Checkout(env.EmployeeID, now)
			var te *model.TransitionError
			switch {
			case terr == nil:
				if _, err := tx.ExecContext(ctx, `
					UPDATE assets SET status = ?, assigned_employee_id = ?, updated_at = ? WHERE id = ?
				`, next.Status.String(), env.EmployeeID, now, next.ID); err != nil {
					return fmt.Errorf("update asset: %w", err)
				}
				res = model.ApplyResult{Outcome: model.OutcomeApplied, Asset: next}
			case errors.As(terr, &te):
				res = model.ApplyResult{Outcome: model.OutcomeRejected, Reason: te.Reason, Asset: current}
			default:
				return terr
			}
		}

		if res.Outcome == model.OutcomeRejected {
			if err := insertRejection(ctx, tx, env, res.Reason, now); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processed_events (event_id, event_type, outcome, processed_at) VALUES (?, ?, ?, ?)
		`, env.EventID, env.Type.String(), res.Outcome.String(), now); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		return nil
	})

	// A concurrent delivery of the same event committed first.
	if db.IsDuplicateKey(err) {
		return model.ApplyResult{Outcome: model.OutcomeDuplicate}, nil
	}
	if db.IsDataError(err) {
		return model.ApplyResult{}, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	if err != nil {
		return model.ApplyResult{}, err
	}
	return res, nil
}
