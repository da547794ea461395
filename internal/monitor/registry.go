package monitor

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/storage"
)

// Thresholds are the default alert bounds applied when a request omits them.
type Thresholds struct {
	Alert    float64
	Critical float64
}

// AddRequest registers an address. Zero thresholds take the defaults.
type AddRequest struct {
	UserID            int64
	Address           string
	AlertThreshold    float64
	CriticalThreshold float64
}

// Registry validates and stores the addresses users watch.
type Registry struct {
	store    storage.MonitorStore
	defaults Thresholds
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRegistry builds a registry. Registrations are not lookups and never
// touch the query ledger.
func NewRegistry(store storage.MonitorStore, defaults Thresholds, logger zerolog.Logger) *Registry {
	return &Registry{
		store:    store,
		defaults: defaults,
		now:      time.Now,
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// Add validates and upserts a monitored address. Re-adding overwrites the thresholds.
func (r *Registry) Add(ctx context.Context, req AddRequest) (storage.MonitoredAddress, error) {
	const op = "monitor.add"

	address, err := NormalizeAddress(op, req.Address)
	if err != nil {
		return storage.MonitoredAddress{}, err
	}

	alert, critical := req.AlertThreshold, req.CriticalThreshold
	if alert == 0 {
		alert = r.defaults.Alert
	}
	if critical == 0 {
		critical = r.defaults.Critical
	}
	if !validThreshold(alert) {
		return storage.MonitoredAddress{}, apperrors.Validation(op, "alert threshold must be a positive number, got %v", alert)
	}
	if !validThreshold(critical) {
		return storage.MonitoredAddress{}, apperrors.Validation(op, "critical threshold must be a positive number, got %v", critical)
	}
	if critical >= alert {
		r.logger.Warn().
			Int64("user_id", req.UserID).
			Float64("alert_threshold", alert).
			Float64("critical_threshold", critical).
			Msg("critical threshold is not below alert threshold; warnings will never fire")
	}

	rec := storage.MonitoredAddress{
		UserID:            req.UserID,
		Address:           address,
		AlertThreshold:    alert,
		CriticalThreshold: critical,
		CreatedAt:         r.now().UTC(),
	}
	if err := r.store.UpsertMonitor(ctx, rec); err != nil {
		return storage.MonitoredAddress{}, apperrors.Storage(op, err)
	}

	r.logger.Info().Int64("user_id", req.UserID).Str("address", address).Msg("address monitored")
	return rec, nil
}

// Remove stops monitoring an address. Removing an unknown address returns
// ErrMonitorNotFound and leaves every other row untouched.
func (r *Registry) Remove(ctx context.Context, userID int64, address string) error {
	const op = "monitor.remove"

	normalized, err := NormalizeAddress(op, address)
	if err != nil {
		return err
	}
	found, err := r.store.DeleteMonitor(ctx, userID, normalized)
	if err != nil {
		return apperrors.Storage(op, err)
	}
	if !found {
		return apperrors.New(apperrors.KindNotFound, op, ErrMonitorNotFound)
	}

	r.logger.Info().Int64("user_id", userID).Str("address", normalized).Msg("address unmonitored")
	return nil
}

// List returns a user's monitored addresses, newest first.
func (r *Registry) List(ctx context.Context, userID int64) ([]storage.MonitoredAddress, error) {
	monitors, err := r.store.ListMonitors(ctx, userID)
	if err != nil {
		return nil, apperrors.Storage("monitor.list", err)
	}
	return monitors, nil
}

// NormalizeAddress validates a 0x-prefixed 20-byte hex address and lower-cases it.
func NormalizeAddress(op, address string) (string, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return "", apperrors.Validation(op, "address %q must start with 0x", address)
	}
	if !common.IsHexAddress(address) {
		return "", apperrors.Validation(op, "address %q is not a 20-byte hex address", address)
	}
	return strings.ToLower(address), nil
}

func validThreshold(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
