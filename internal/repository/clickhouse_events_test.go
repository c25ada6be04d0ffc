package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

func TestCHEventsInsertBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCHEventsRepository(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []model.AuditRecord{
		{EventID: "01A", EventType: "AssetCheckedOut", AssetID: 1, EmployeeID: 7, Outcome: model.OutcomeApplied, OccurredAt: at, ProcessedAt: at},
		{EventID: "01B", EventType: "AssetCheckedOut", AssetID: 1, EmployeeID: 8, Outcome: model.OutcomeRejected, Reason: "already-assigned", OccurredAt: at, ProcessedAt: at},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO lifecycle.event_log")
	prep.ExpectExec().WithArgs("01A", "AssetCheckedOut", int64(1), int64(7), "applied", "", at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("01B", "AssetCheckedOut", int64(1), int64(8), "rejected", "already-assigned", at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertBatch(context.Background(), recs))
	require.NoError(t, repo.InsertBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEventsListFilters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCHEventsRepository(db)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"event_id", "event_type", "asset_id", "employee_id", "outcome", "reason", "occurred_at", "processed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("AND asset_id = ? AND outcome = ? AND processed_at >= ? ORDER BY processed_at DESC LIMIT ? OFFSET ?")).
		WithArgs(int64(3), "rejected", since, 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("01B", "AssetCheckedOut", 3, 8, "rejected", "already-assigned", since, since))

	rows, err := repo.List(context.Background(), EventLogFilter{
		AssetID: 3, Outcome: model.OutcomeRejected, Since: since, Limit: 5000, Offset: -1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.OutcomeRejected, rows[0].Outcome)
	assert.Equal(t, "already-assigned", rows[0].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}
