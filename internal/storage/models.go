package storage

import (
	"time"
)

// MonitoredAddress is a user's subscription to alerts for one wallet.
type MonitoredAddress struct {
	UserID            int64
	Address           string
	AlertThreshold    float64
	CriticalThreshold float64
	CreatedAt         time.Time
}

// AlertRecord captures an emitted alert for auditing. Rows are never updated.
type AlertRecord struct {
	ID           int64
	UserID       int64
	PositionID   int64
	Chain        string
	HealthFactor float64
	AlertType    string
	Message      string
	CreatedAt    time.Time
}

// PositionSnapshot summarises a position at the moment an alert was recorded.
type PositionSnapshot struct {
	ID           int64
	PositionID   int64
	Chain        string
	OwnerAddress string
	HealthFactor float64
	Ratio        float64
	SupplyUSD    float64
	BorrowUSD    float64
	CreatedAt    time.Time
}

// QueryRecord is one user-initiated lookup, counted by the quota window.
type QueryRecord struct {
	ID         int64
	UserID     int64
	QueryType  string
	QueryValue string
	Timestamp  time.Time
}

// QueryCounts aggregates a user's lookups over the reporting windows.
type QueryCounts struct {
	Last24h int64
	Last7d  int64
	Total   int64
	// ByType breaks down the 24h window.
	ByType map[string]int64
}
