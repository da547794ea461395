package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// quotaLockNamespace is the first key of the per-user advisory lock taken while consuming quota.
const quotaLockNamespace int32 = 0x71756f74

const (
	upsertMonitorSQL = `INSERT INTO monitored_addresses (
        user_id,
        address,
        alert_threshold,
        critical_threshold,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (user_id, address) DO UPDATE
    SET
        alert_threshold    = EXCLUDED.alert_threshold,
        critical_threshold = EXCLUDED.critical_threshold,
        created_at         = EXCLUDED.created_at;`

	deleteMonitorSQL = `DELETE FROM monitored_addresses
    WHERE user_id = $1
      AND address = $2;`

	listMonitorsSQL = `SELECT
        user_id,
        address,
        alert_threshold,
        critical_threshold,
        created_at
    FROM monitored_addresses
    WHERE user_id = $1
    ORDER BY created_at DESC, id DESC;`

	listAllMonitorsSQL = `SELECT
        user_id,
        address,
        alert_threshold,
        critical_threshold,
        created_at
    FROM monitored_addresses
    ORDER BY created_at DESC, id DESC;`

	insertAlertSQL = `INSERT INTO alert_history (
        user_id,
        position_id,
        chain,
        health_factor,
        alert_type,
        message,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id;`

	insertSnapshotSQL = `INSERT INTO position_snapshots (
        position_id,
        chain,
        owner_address,
        health_factor,
        ratio,
        supply_usd,
        borrow_usd,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listRecentAlertsSQL = `SELECT
        id,
        user_id,
        position_id,
        chain,
        health_factor,
        alert_type,
        message,
        created_at
    FROM alert_history
    WHERE user_id = $1
      AND created_at > $2
    ORDER BY created_at DESC
    LIMIT NULLIF($3, 0);`

	positionHistorySQL = `SELECT
        id,
        position_id,
        chain,
        owner_address,
        health_factor,
        ratio,
        supply_usd,
        borrow_usd,
        created_at
    FROM position_snapshots
    WHERE chain = $1
      AND position_id = $2
    ORDER BY created_at DESC
    LIMIT NULLIF($3, 0);`

	insertQuerySQL = `INSERT INTO user_queries (
        user_id,
        query_type,
        query_value,
        ts
    ) VALUES (
        $1,$2,$3,$4
    );`

	countQueriesSinceSQL = `SELECT COUNT(*) FROM user_queries
    WHERE user_id = $1
      AND ts > $2;`

	countQueriesTotalSQL = `SELECT COUNT(*) FROM user_queries
    WHERE user_id = $1;`

	countQueriesByTypeSQL = `SELECT query_type, COUNT(*) FROM user_queries
    WHERE user_id = $1
      AND ts > $2
    GROUP BY query_type;`

	deleteQueriesBeforeSQL = `DELETE FROM user_queries WHERE ts < $1;`

	quotaXactLockSQL = `SELECT pg_advisory_xact_lock($1, hashtext($2));`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MonitorStore persists the set of monitored addresses.
type MonitorStore interface {
	UpsertMonitor(ctx context.Context, m MonitoredAddress) error
	DeleteMonitor(ctx context.Context, userID int64, address string) (bool, error)
	ListMonitors(ctx context.Context, userID int64) ([]MonitoredAddress, error)
	ListAllMonitors(ctx context.Context) ([]MonitoredAddress, error)
}

// HistoryStore appends and reads the alert audit trail.
type HistoryStore interface {
	RecordAlert(ctx context.Context, alert AlertRecord, snapshot PositionSnapshot) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, userID int64, since time.Time, limit int) ([]AlertRecord, error)
	PositionHistory(ctx context.Context, chain string, positionID int64, limit int) ([]PositionSnapshot, error)
}

// QueryStore backs the lookup quota.
type QueryStore interface {
	InsertQuery(ctx context.Context, rec QueryRecord) error
	CountQueriesSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	// ConsumeQuery counts the user's queries after since and inserts rec only when
	// the count is below limit. The two steps are atomic per user.
	ConsumeQuery(ctx context.Context, rec QueryRecord, since time.Time, limit int64) (used int64, recorded bool, err error)
	QueryCounts(ctx context.Context, userID int64, since24h, since7d time.Time) (QueryCounts, error)
	DeleteQueriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the PostgreSQL implementation of every storage interface.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		return &Store{}
	}
	return &Store{db: pool, pool: pool}
}

// NewStoreWithDB builds a Store over any DB implementation. Session advisory
// locks need a real pool and report ErrNotConfigured on such stores.
func NewStoreWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getDB() (DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, ErrNotConfigured
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the lock dies with the session; drop the connection so it is not reused while held
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertMonitor inserts or overwrites the thresholds for (user, address).
func (s *Store) UpsertMonitor(ctx context.Context, m MonitoredAddress) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, execErr := db.Exec(ctx, upsertMonitorSQL,
		m.UserID,
		m.Address,
		m.AlertThreshold,
		m.CriticalThreshold,
		m.CreatedAt,
	); execErr != nil {
		return fmt.Errorf("upsert monitor: %w", execErr)
	}
	return nil
}

// DeleteMonitor removes a monitored address and reports whether a row existed.
func (s *Store) DeleteMonitor(ctx context.Context, userID int64, address string) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	cmdTag, execErr := db.Exec(ctx, deleteMonitorSQL, userID, address)
	if execErr != nil {
		return false, fmt.Errorf("delete monitor: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ListMonitors lists one user's monitored addresses, newest first.
func (s *Store) ListMonitors(ctx context.Context, userID int64) ([]MonitoredAddress, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, queryErr := db.Query(ctx, listMonitorsSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list monitors: %w", queryErr)
	}
	return collectMonitors(rows)
}

// ListAllMonitors lists every monitored address across users, newest first.
func (s *Store) ListAllMonitors(ctx context.Context) ([]MonitoredAddress, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, queryErr := db.Query(ctx, listAllMonitorsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list all monitors: %w", queryErr)
	}
	return collectMonitors(rows)
}

// RecordAlert appends an alert and its position snapshot in one transaction.
func (s *Store) RecordAlert(ctx context.Context, alert AlertRecord, snapshot PositionSnapshot) (AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return AlertRecord{}, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("begin alert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if scanErr := tx.QueryRow(ctx, insertAlertSQL,
		alert.UserID,
		alert.PositionID,
		alert.Chain,
		alert.HealthFactor,
		alert.AlertType,
		alert.Message,
		alert.CreatedAt,
	).Scan(&alert.ID); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}

	if _, execErr := tx.Exec(ctx, insertSnapshotSQL,
		snapshot.PositionID,
		snapshot.Chain,
		snapshot.OwnerAddress,
		snapshot.HealthFactor,
		snapshot.Ratio,
		snapshot.SupplyUSD,
		snapshot.BorrowUSD,
		snapshot.CreatedAt,
	); execErr != nil {
		return AlertRecord{}, fmt.Errorf("insert snapshot: %w", execErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return AlertRecord{}, fmt.Errorf("commit alert tx: %w", err)
	}
	return alert, nil
}

// ListRecentAlerts lists a user's alerts created after since, newest first.
func (s *Store) ListRecentAlerts(ctx context.Context, userID int64, since time.Time, limit int) ([]AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listRecentAlertsSQL, userID, since, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.PositionID,
			&rec.Chain,
			&rec.HealthFactor,
			&rec.AlertType,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// PositionHistory lists snapshots of one position, newest first.
func (s *Store) PositionHistory(ctx context.Context, chain string, positionID int64, limit int) ([]PositionSnapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, positionHistorySQL, chain, positionID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("position history: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]PositionSnapshot, 0)
	for rows.Next() {
		var snap PositionSnapshot
		if err := rows.Scan(
			&snap.ID,
			&snap.PositionID,
			&snap.Chain,
			&snap.OwnerAddress,
			&snap.HealthFactor,
			&snap.Ratio,
			&snap.SupplyUSD,
			&snap.BorrowUSD,
			&snap.CreatedAt,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// InsertQuery appends a lookup record.
func (s *Store) InsertQuery(ctx context.Context, rec QueryRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, execErr := db.Exec(ctx, insertQuerySQL, rec.UserID, rec.QueryType, rec.QueryValue, rec.Timestamp); execErr != nil {
		return fmt.Errorf("insert query: %w", execErr)
	}
	return nil
}

// CountQueriesSince counts a user's lookups strictly after since.
func (s *Store) CountQueriesSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := db.QueryRow(ctx, countQueriesSinceSQL, userID, since).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count queries: %w", scanErr)
	}
	return count, nil
}

// ConsumeQuery serialises concurrent lookups of the same user with a transaction-scoped advisory lock.
func (s *Store) ConsumeQuery(ctx context.Context, rec QueryRecord, since time.Time, limit int64) (int64, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, false, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin quota tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, execErr := tx.Exec(ctx, quotaXactLockSQL, quotaLockNamespace, strconv.FormatInt(rec.UserID, 10)); execErr != nil {
		return 0, false, fmt.Errorf("lock user quota: %w", execErr)
	}

	var used int64
	if scanErr := tx.QueryRow(ctx, countQueriesSinceSQL, rec.UserID, since).Scan(&used); scanErr != nil {
		return 0, false, fmt.Errorf("count queries: %w", scanErr)
	}
	if used >= limit {
		return used, false, nil
	}

	if _, execErr := tx.Exec(ctx, insertQuerySQL, rec.UserID, rec.QueryType, rec.QueryValue, rec.Timestamp); execErr != nil {
		return used, false, fmt.Errorf("insert query: %w", execErr)
	}
	if err := tx.Commit(ctx); err != nil {
		return used, false, fmt.Errorf("commit quota tx: %w", err)
	}
	return used, true, nil
}

// QueryCounts reports 24h, 7d and all-time lookup counts plus a 24h per-type breakdown.
func (s *Store) QueryCounts(ctx context.Context, userID int64, since24h, since7d time.Time) (QueryCounts, error) {
	db, err := s.getDB()
	if err != nil {
		return QueryCounts{}, err
	}

	counts := QueryCounts{ByType: make(map[string]int64)}
	if scanErr := db.QueryRow(ctx, countQueriesSinceSQL, userID, since24h).Scan(&counts.Last24h); scanErr != nil {
		return QueryCounts{}, fmt.Errorf("count 24h queries: %w", scanErr)
	}
	if scanErr := db.QueryRow(ctx, countQueriesSinceSQL, userID, since7d).Scan(&counts.Last7d); scanErr != nil {
		return QueryCounts{}, fmt.Errorf("count 7d queries: %w", scanErr)
	}
	if scanErr := db.QueryRow(ctx, countQueriesTotalSQL, userID).Scan(&counts.Total); scanErr != nil {
		return QueryCounts{}, fmt.Errorf("count total queries: %w", scanErr)
	}

	rows, queryErr := db.Query(ctx, countQueriesByTypeSQL, userID, since24h)
	if queryErr != nil {
		return QueryCounts{}, fmt.Errorf("count queries by type: %w", queryErr)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			queryType string
			n         int64
		)
		if err := rows.Scan(&queryType, &n); err != nil {
			return QueryCounts{}, err
		}
		counts.ByType[queryType] = n
	}
	if rows.Err() != nil {
		return QueryCounts{}, rows.Err()
	}
	return counts, nil
}

// DeleteQueriesBefore purges lookup records older than cutoff.
func (s *Store) DeleteQueriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := db.Exec(ctx, deleteQueriesBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete queries before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func collectMonitors(rows pgx.Rows) ([]MonitoredAddress, error) {
	defer rows.Close()

	monitors := make([]MonitoredAddress, 0)
	for rows.Next() {
		var m MonitoredAddress
		if err := rows.Scan(
			&m.UserID,
			&m.Address,
			&m.AlertThreshold,
			&m.CriticalThreshold,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return monitors, nil
}

var (
	_ MonitorStore   = (*Store)(nil)
	_ HistoryStore   = (*Store)(nil)
	_ QueryStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
