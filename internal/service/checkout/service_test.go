package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

type stubDirectory struct {
	exists bool
	err    error
}

func (d stubDirectory) EmployeeExists(context.Context, int64) (bool, error) { return d.exists, d.err }

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context) { c.n++ }

func newService(t *testing.T, dir EmployeeDirectory) (*Service, sqlmock.Sqlmock, *countingNotifier) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	db := sqlx.NewDb(raw, "mysql")
	n := &countingNotifier{}
	return New(db, repository.NewOutboxRepository(db), dir, n, nil), mock, n
}

func TestCheckoutEnqueuesInOneTx(t *testing.T) {
	svc, mock, n := newService(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(sqlmock.AnyArg(), "AssetCheckedOut", "asset.checked.out", sqlmock.AnyArg(), "PENDING", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	env, err := svc.Checkout(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, int64(1), env.AssetID)
	assert.Equal(t, int64(7), env.EmployeeID)
	assert.Equal(t, 1, n.n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutInvalidIDsTouchNothing(t *testing.T) {
	svc, mock, n := newService(t, nil)

	for _, ids := range [][2]int64{{0, 7}, {1, 0}, {-1, -1}} {
		_, err := svc.Checkout(context.Background(), ids[0], ids[1])
		assert.ErrorIs(t, err, model.ErrInvalidEventData)
	}
	assert.Equal(t, 0, n.n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutDirectory(t *testing.T) {
	svc, mock, _ := newService(t, stubDirectory{exists: false})
	_, err := svc.Checkout(context.Background(), 1, 7)
	assert.ErrorIs(t, err, model.ErrInvalidEventData)

	svc, mock2, _ := newService(t, stubDirectory{err: errors.New("connection refused")})
	_, err = svc.Checkout(context.Background(), 1, 7)
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)

	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, mock2.ExpectationsWereMet())
}

func TestCheckoutRollsBackOnOutboxError(t *testing.T) {
	svc, mock, n := newService(t, stubDirectory{exists: true})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), 1, 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrInvalidEventData)
	assert.Equal(t, 0, n.n)
	require.NoError(t, mock.ExpectationsWereMet())
}
