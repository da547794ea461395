package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every table in process memory. It backs dry runs and
// deployments without a database; contents vanish on exit.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	monitors  []memMonitor
	alerts    []AlertRecord
	snapshots []PositionSnapshot
	queries   []QueryRecord
}

type memMonitor struct {
	id int64
	MonitoredAddress
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// UpsertMonitor inserts or overwrites the thresholds for (user, address).
func (m *MemoryStore) UpsertMonitor(_ context.Context, rec MonitoredAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.monitors {
		if m.monitors[i].UserID == rec.UserID && m.monitors[i].Address == rec.Address {
			m.monitors[i].AlertThreshold = rec.AlertThreshold
			m.monitors[i].CriticalThreshold = rec.CriticalThreshold
			m.monitors[i].CreatedAt = rec.CreatedAt
			return nil
		}
	}
	m.monitors = append(m.monitors, memMonitor{id: m.id(), MonitoredAddress: rec})
	return nil
}

// DeleteMonitor removes a monitored address and reports whether it existed.
func (m *MemoryStore) DeleteMonitor(_ context.Context, userID int64, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.monitors {
		if m.monitors[i].UserID == userID && m.monitors[i].Address == address {
			m.monitors = append(m.monitors[:i], m.monitors[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ListMonitors lists one user's monitored addresses, newest first.
func (m *MemoryStore) ListMonitors(_ context.Context, userID int64) ([]MonitoredAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedMonitors(func(rec memMonitor) bool { return rec.UserID == userID }), nil
}

// ListAllMonitors lists every monitored address, newest first.
func (m *MemoryStore) ListAllMonitors(_ context.Context) ([]MonitoredAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedMonitors(func(memMonitor) bool { return true }), nil
}

func (m *MemoryStore) sortedMonitors(keep func(memMonitor) bool) []MonitoredAddress {
	matched := make([]memMonitor, 0, len(m.monitors))
	for _, rec := range m.monitors {
		if keep(rec) {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].id > matched[j].id
	})
	out := make([]MonitoredAddress, len(matched))
	for i, rec := range matched {
		out[i] = rec.MonitoredAddress
	}
	return out
}

// RecordAlert appends an alert and its snapshot.
func (m *MemoryStore) RecordAlert(_ context.Context, alert AlertRecord, snapshot PositionSnapshot) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert.ID = m.id()
	snapshot.ID = m.id()
	m.alerts = append(m.alerts, alert)
	m.snapshots = append(m.snapshots, snapshot)
	return alert, nil
}

// ListRecentAlerts lists a user's alerts created after since, newest first.
func (m *MemoryStore) ListRecentAlerts(_ context.Context, userID int64, since time.Time, limit int) ([]AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AlertRecord, 0)
	for i := len(m.alerts) - 1; i >= 0; i-- {
		rec := m.alerts[i]
		if rec.UserID == userID && rec.CreatedAt.After(since) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PositionHistory lists snapshots of one position, newest first.
func (m *MemoryStore) PositionHistory(_ context.Context, chain string, positionID int64, limit int) ([]PositionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PositionSnapshot, 0)
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		snap := m.snapshots[i]
		if snap.Chain == chain && snap.PositionID == positionID {
			out = append(out, snap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Alerts returns a copy of every recorded alert in insertion order.
func (m *MemoryStore) Alerts() []AlertRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AlertRecord(nil), m.alerts...)
}

// Snapshots returns a copy of every recorded snapshot in insertion order.
func (m *MemoryStore) Snapshots() []PositionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PositionSnapshot(nil), m.snapshots...)
}

// InsertQuery appends a lookup record.
func (m *MemoryStore) InsertQuery(_ context.Context, rec QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	m.queries = append(m.queries, rec)
	return nil
}

// CountQueriesSince counts a user's lookups strictly after since.
func (m *MemoryStore) CountQueriesSince(_ context.Context, userID int64, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countSince(userID, since), nil
}

func (m *MemoryStore) countSince(userID int64, since time.Time) int64 {
	var n int64
	for _, q := range m.queries {
		if q.UserID == userID && q.Timestamp.After(since) {
			n++
		}
	}
	return n
}

// ConsumeQuery counts and conditionally inserts under the store lock.
func (m *MemoryStore) ConsumeQuery(_ context.Context, rec QueryRecord, since time.Time, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.countSince(rec.UserID, since)
	if used >= limit {
		return used, false, nil
	}
	rec.ID = m.id()
	m.queries = append(m.queries, rec)
	return used, true, nil
}

// QueryCounts reports 24h, 7d and all-time lookup counts plus a 24h per-type breakdown.
func (m *MemoryStore) QueryCounts(_ context.Context, userID int64, since24h, since7d time.Time) (QueryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := QueryCounts{ByType: make(map[string]int64)}
	for _, q := range m.queries {
		if q.UserID != userID {
			continue
		}
		counts.Total++
		if q.Timestamp.After(since7d) {
			counts.Last7d++
		}
		if q.Timestamp.After(since24h) {
			counts.Last24h++
			counts.ByType[q.QueryType]++
		}
	}
	return counts, nil
}

// DeleteQueriesBefore purges lookup records older than cutoff.
func (m *MemoryStore) DeleteQueriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.queries[:0]
	var deleted int64
	for _, q := range m.queries {
		if q.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, q)
	}
	m.queries = kept
	return deleted, nil
}

var (
	_ MonitorStore = (*MemoryStore)(nil)
	_ HistoryStore = (*MemoryStore)(nil)
	_ QueryStore   = (*MemoryStore)(nil)
)
