package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/metrics"
	"position-health-alerts/internal/storage"
)

// Query types recorded in the ledger.
const (
	TypePosition = "position"
	TypeAddress  = "address"
)

// Window is the sliding period a user's daily allowance covers.
const Window = 24 * time.Hour

const week = 7 * 24 * time.Hour

// Quota is a user's standing against the daily allowance.
type Quota struct {
	Allowed   bool
	Used      int64
	Remaining int64
	Limit     int64
}

// Stats summarises a user's lookup history.
type Stats struct {
	Last24h        int64
	Last7d         int64
	Total          int64
	ByType         map[string]int64
	RemainingToday int64
	Limit          int64
}

// Ledger throttles user-initiated lookups over a sliding 24h window. Storage
// failures never block a user: the gate fails open and logs a warning.
type Ledger struct {
	store  storage.QueryStore
	limit  int64
	now    func() time.Time
	logger zerolog.Logger
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger builds a ledger allowing limit lookups per window.
func NewLedger(store storage.QueryStore, limit int64, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: logger.With().Str("component", "quota").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the per-window allowance.
func (l *Ledger) Limit() int64 {
	return l.limit
}

// Check reports the user's standing without consuming anything.
func (l *Ledger) Check(ctx context.Context, userID int64) Quota {
	used, err := l.store.CountQueriesSince(ctx, userID, l.now().Add(-Window))
	if err != nil {
		l.logger.Warn().Err(err).Int64("user_id", userID).Msg("quota check failed, allowing")
		return l.openQuota()
	}
	return l.quota(used, used < l.limit)
}

// Record appends a lookup unconditionally. Failures are logged and dropped.
func (l *Ledger) Record(ctx context.Context, userID int64, queryType, queryValue string) {
	rec := storage.QueryRecord{UserID: userID, QueryType: queryType, QueryValue: queryValue, Timestamp: l.now()}
	if err := l.store.InsertQuery(ctx, rec); err != nil {
		l.logger.Warn().Err(err).Int64("user_id", userID).Str("query_type", queryType).Msg("record query failed")
	}
}

// Acquire checks and records in one atomic step. The returned Quota reflects
// usage after the lookup was counted; Allowed is false when the allowance was
// already spent and nothing was recorded.
func (l *Ledger) Acquire(ctx context.Context, userID int64, queryType, queryValue string) Quota {
	now := l.now()
	rec := storage.QueryRecord{UserID: userID, QueryType: queryType, QueryValue: queryValue, Timestamp: now}

	used, recorded, err := l.store.ConsumeQuery(ctx, rec, now.Add(-Window), l.limit)
	if err != nil {
		l.logger.Warn().Err(err).Int64("user_id", userID).Str("query_type", queryType).Msg("quota acquire failed, allowing")
		metrics.QuotaDecisions.WithLabelValues(queryType, "fail_open").Inc()
		return l.openQuota()
	}
	if !recorded {
		metrics.QuotaDecisions.WithLabelValues(queryType, "rejected").Inc()
		l.logger.Info().Int64("user_id", userID).Str("query_type", queryType).Int64("used", used).Msg("quota exhausted")
		return l.quota(used, false)
	}
	metrics.QuotaDecisions.WithLabelValues(queryType, "allowed").Inc()
	return l.quota(used+1, true)
}

// Stats reports 24h, 7d and all-time counts.
func (l *Ledger) Stats(ctx context.Context, userID int64) (Stats, error) {
	now := l.now()
	counts, err := l.store.QueryCounts(ctx, userID, now.Add(-Window), now.Add(-week))
	if err != nil {
		return Stats{}, apperrors.Storage("quota.stats", err)
	}
	return Stats{
		Last24h:        counts.Last24h,
		Last7d:         counts.Last7d,
		Total:          counts.Total,
		ByType:         counts.ByType,
		RemainingToday: remaining(l.limit, counts.Last24h),
		Limit:          l.limit,
	}, nil
}

// Cleanup deletes ledger rows older than retentionDays.
func (l *Ledger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, apperrors.Validation("quota.cleanup", "retention days must be positive, got %d", retentionDays)
	}
	cutoff := l.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	deleted, err := l.store.DeleteQueriesBefore(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Storage("quota.cleanup", fmt.Errorf("purge before %s: %w", cutoff.Format(time.RFC3339), err))
	}
	metrics.QueriesPurged.Add(float64(deleted))
	l.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("query ledger cleaned")
	return deleted, nil
}

func (l *Ledger) quota(used int64, allowed bool) Quota {
	return Quota{Allowed: allowed, Used: used, Remaining: remaining(l.limit, used), Limit: l.limit}
}

func (l *Ledger) openQuota() Quota {
	return Quota{Allowed: true, Used: 0, Remaining: l.limit, Limit: l.limit}
}

func remaining(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}
