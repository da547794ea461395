package storage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStoreWithDB(mock), mock
}

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	_, err := s.ListAllMonitors(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = NewStore(nil).TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUpsertMonitor(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec("INSERT INTO monitored_addresses").
		WithArgs(int64(42), "0xabc", 1.2, 1.1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.UpsertMonitor(context.Background(), MonitoredAddress{
		UserID: 42, Address: "0xabc", AlertThreshold: 1.2, CriticalThreshold: 1.1, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMonitorReportsMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM monitored_addresses").
		WithArgs(int64(42), "0xabc").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM monitored_addresses").
		WithArgs(int64(42), "0xdef").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	found, err := store.DeleteMonitor(context.Background(), 42, "0xabc")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = store.DeleteMonitor(context.Background(), 42, "0xdef")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAllMonitorsScansRows(t *testing.T) {
	store, mock := newMockStore(t)
	t1 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	rows := pgxmock.NewRows([]string{"user_id", "address", "alert_threshold", "critical_threshold", "created_at"}).
		AddRow(int64(1), "0xaaa", 1.15, 1.05, t1).
		AddRow(int64(2), "0xbbb", 1.3, 1.1, t0)
	mock.ExpectQuery("FROM monitored_addresses").WillReturnRows(rows)

	monitors, err := store.ListAllMonitors(context.Background())
	require.NoError(t, err)
	require.Len(t, monitors, 2)
	assert.Equal(t, "0xaaa", monitors[0].Address)
	assert.Equal(t, 1.3, monitors[1].AlertThreshold)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAlertCommitsBothRows(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO alert_history").
		WithArgs(int64(42), int64(9540), "eth", 1.01, "CRITICAL", "Health factor: 1.010000", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO position_snapshots").
		WithArgs(int64(9540), "eth", "0xowner", 1.01, 91.0, 1000.0, 910.0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec, err := store.RecordAlert(context.Background(),
		AlertRecord{UserID: 42, PositionID: 9540, Chain: "eth", HealthFactor: 1.01, AlertType: "CRITICAL", Message: "Health factor: 1.010000", CreatedAt: now},
		PositionSnapshot{PositionID: 9540, Chain: "eth", OwnerAddress: "0xowner", HealthFactor: 1.01, Ratio: 91, SupplyUSD: 1000, BorrowUSD: 910, CreatedAt: now},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAlertRollsBackOnSnapshotFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO alert_history").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO position_snapshots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.RecordAlert(context.Background(),
		AlertRecord{UserID: 1, PositionID: 1, Chain: "eth", HealthFactor: math.Inf(1)},
		PositionSnapshot{PositionID: 1, Chain: "eth", HealthFactor: math.Inf(1)},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert snapshot")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeQueryInsertsBelowLimit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)
	rec := QueryRecord{UserID: 42, QueryType: "address", QueryValue: "0xabc", Timestamp: now}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(quotaLockNamespace, "42").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(42), since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(9)))
	mock.ExpectExec("INSERT INTO user_queries").
		WithArgs(int64(42), "address", "0xabc", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	used, recorded, err := store.ConsumeQuery(context.Background(), rec, since, 10)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, int64(9), used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeQueryRejectsAtLimit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(10)))
	mock.ExpectRollback()

	used, recorded, err := store.ConsumeQuery(context.Background(), QueryRecord{UserID: 42, QueryType: "position", Timestamp: now}, since, 10)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, int64(10), used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryCounts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	since24h := now.Add(-24 * time.Hour)
	since7d := now.Add(-7 * 24 * time.Hour)

	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(5), since24h).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(5), since7d).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(8)))
	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(20)))
	mock.ExpectQuery("GROUP BY query_type").WithArgs(int64(5), since24h).
		WillReturnRows(pgxmock.NewRows([]string{"query_type", "count"}).
			AddRow("position", int64(2)).
			AddRow("address", int64(1)))

	counts, err := store.QueryCounts(context.Background(), 5, since24h, since7d)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Last24h)
	assert.Equal(t, int64(8), counts.Last7d)
	assert.Equal(t, int64(20), counts.Total)
	assert.Equal(t, map[string]int64{"position": 2, "address": 1}, counts.ByType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteQueriesBefore(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM user_queries").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	deleted, err := store.DeleteQueriesBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
