package monitor

import (
	"errors"
	"fmt"

	"position-health-alerts/internal/quota"
)

var (
	// ErrMonitorNotFound is returned when removing an address that is not monitored.
	ErrMonitorNotFound = errors.New("address is not monitored")
	// ErrPositionNotFound is returned when a lookup finds nothing on any chain.
	ErrPositionNotFound = errors.New("position not found on any chain")
	// ErrQuotaExceeded is returned when a user has spent the daily lookup allowance.
	ErrQuotaExceeded = errors.New("daily query limit reached")
)

// QuotaExceededError carries the standing that caused a lookup to be refused.
type QuotaExceededError struct {
	Quota quota.Quota
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s (%d/%d used)", ErrQuotaExceeded, e.Quota.Used, e.Quota.Limit)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}
