package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

// ErrDirectoryUnavailable means the employee could not be verified; nothing was enqueued.
var ErrDirectoryUnavailable = errors.New("employee directory unavailable")

// EmployeeDirectory answers whether an employee id exists.
type EmployeeDirectory interface {
	EmployeeExists(ctx context.Context, id int64) (bool, error)
}

// Notifier nudges relays after a commit; best effort.
type Notifier interface {
	Notify(ctx context.Context)
}

// Service accepts checkouts: it builds the envelope and writes the outbox row in one transaction.
type Service struct {
	db        *sqlx.DB
	outbox    repository.OutboxRepository
	directory EmployeeDirectory // optional
	notifier  Notifier          // optional
	log       *zap.Logger
}

// New constructs the checkout service. directory and notifier may be nil.
func New(
	db *sqlx.DB,
	outboxRepo repository.OutboxRepository,
	directory EmployeeDirectory,
	notifier Notifier,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:        db,
		outbox:    outboxRepo,
		directory: directory,
		notifier:  notifier,
		log:       log,
	}
}

// Checkout validates the request, generates the event id, and enqueues the
// AssetCheckedOut envelope. It returns once the outbox row is committed; it
// never waits on the broker.
func (s *Service) Checkout(ctx context.Context, assetID, employeeID int64) (model.Envelope, error) {
	env, err := model.NewCheckoutEvent(assetID, employeeID)
	if err != nil {
		return model.Envelope{}, err
	}

	if s.directory != nil {
		ok, err := s.directory.EmployeeExists(ctx, employeeID)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
		}
		if !ok {
			return model.Envelope{}, fmt.Errorf("%w: employee %d does not exist", model.ErrInvalidEventData, employeeID)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Envelope{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.outbox.Enqueue(ctx, tx, env); err != nil {
		return model.Envelope{}, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Envelope{}, err
	}

	s.log.Info("checkout accepted",
		zap.String("event_id", env.EventID),
		zap.Int64("asset_id", assetID),
		zap.Int64("employee_id", employeeID),
	)

	if s.notifier != nil {
		s.notifier.Notify(context.WithoutCancel(ctx))
	}
	return env, nil
}
