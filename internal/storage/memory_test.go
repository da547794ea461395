package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertOverwritesThresholds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.UpsertMonitor(ctx, MonitoredAddress{UserID: 1, Address: "0xabc", AlertThreshold: 1.15, CriticalThreshold: 1.05, CreatedAt: now}))
	require.NoError(t, s.UpsertMonitor(ctx, MonitoredAddress{UserID: 1, Address: "0xabc", AlertThreshold: 1.5, CriticalThreshold: 1.2, CreatedAt: now.Add(time.Second)}))

	monitors, err := s.ListMonitors(ctx, 1)
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, 1.5, monitors[0].AlertThreshold)
	assert.Equal(t, 1.2, monitors[0].CriticalThreshold)
}

func TestMemoryDeleteMissingLeavesOthers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.UpsertMonitor(ctx, MonitoredAddress{UserID: 1, Address: "0xaaa", CreatedAt: now}))
	require.NoError(t, s.UpsertMonitor(ctx, MonitoredAddress{UserID: 2, Address: "0xbbb", CreatedAt: now}))

	found, err := s.DeleteMonitor(ctx, 1, "0xbbb")
	require.NoError(t, err)
	assert.False(t, found)

	all, err := s.ListAllMonitors(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.UpsertMonitor(ctx, MonitoredAddress{UserID: 1, Address: "0xold", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.UpsertMonitor(ctx, MonitoredAddress{UserID: 1, Address: "0xnew", CreatedAt: now}))
	require.NoError(t, s.UpsertMonitor(ctx, MonitoredAddress{UserID: 2, Address: "0xother", CreatedAt: now.Add(-time.Minute)}))

	mine, err := s.ListMonitors(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "0xnew", mine[0].Address)
	assert.Equal(t, "0xold", mine[1].Address)

	all, err := s.ListAllMonitors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xnew", "0xother", "0xold"}, []string{all[0].Address, all[1].Address, all[2].Address})
}

func TestMemoryQueryWindowIsStrict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	since := now.Add(-24 * time.Hour)

	require.NoError(t, s.InsertQuery(ctx, QueryRecord{UserID: 1, QueryType: "position", Timestamp: since}))
	require.NoError(t, s.InsertQuery(ctx, QueryRecord{UserID: 1, QueryType: "position", Timestamp: since.Add(time.Second)}))

	n, err := s.CountQueriesSince(ctx, 1, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryConsumeQueryIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	since := now.Add(-24 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.ConsumeQuery(ctx, QueryRecord{UserID: 9, QueryType: "address", Timestamp: now}, since, 10)
		}()
	}
	wg.Wait()

	n, err := s.CountQueriesSince(ctx, 9, since)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestMemoryHistoryAndRecentAlerts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	for i := 0; i < 3; i++ {
		ts := now.Add(time.Duration(i) * time.Minute)
		_, err := s.RecordAlert(ctx,
			AlertRecord{UserID: 1, PositionID: 5, Chain: "eth", AlertType: "WARNING", CreatedAt: ts},
			PositionSnapshot{PositionID: 5, Chain: "eth", HealthFactor: 1.1 - float64(i)/100, CreatedAt: ts})
		require.NoError(t, err)
	}
	_, err := s.RecordAlert(ctx,
		AlertRecord{UserID: 1, PositionID: 5, Chain: "base", CreatedAt: now},
		PositionSnapshot{PositionID: 5, Chain: "base", CreatedAt: now})
	require.NoError(t, err)

	history, err := s.PositionHistory(ctx, "eth", 5, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.InDelta(t, 1.08, history[0].HealthFactor, 1e-9)

	recent, err := s.ListRecentAlerts(ctx, 1, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestMemoryDeleteQueriesBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.InsertQuery(ctx, QueryRecord{UserID: 1, Timestamp: now.Add(-31 * 24 * time.Hour)}))
	require.NoError(t, s.InsertQuery(ctx, QueryRecord{UserID: 1, Timestamp: now}))

	deleted, err := s.DeleteQueriesBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	counts, err := s.QueryCounts(ctx, 1, now.Add(-24*time.Hour), now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Total)
}
