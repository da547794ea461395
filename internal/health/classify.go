package health

import "math"

// Severity is the alert level assigned to a position for one scan.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Classify compares a health factor against a user's thresholds. Both bounds are
// strict and CRITICAL wins regardless of how the two thresholds are ordered.
func Classify(healthFactor, alertThreshold, criticalThreshold float64) Severity {
	switch {
	case healthFactor < criticalThreshold:
		return SeverityCritical
	case healthFactor < alertThreshold:
		return SeverityWarning
	default:
		return SeverityNone
	}
}

// Status is the coarse risk band shown to users alongside a position.
type Status string

const (
	StatusLiquidated Status = "LIQUIDATED"
	StatusCritical   Status = "CRITICAL"
	StatusWarning    Status = "WARNING"
	StatusCaution    Status = "CAUTION"
	StatusSafe       Status = "SAFE"
)

// Fixed display bands, independent of per-user alert thresholds.
const (
	criticalBand = 1.05
	warningBand  = 1.15
	cautionBand  = 1.25
)

// StatusOf buckets a position into a display band.
func StatusOf(p Position) Status {
	switch {
	case p.IsLiquidated:
		return StatusLiquidated
	case p.HealthFactor < criticalBand:
		return StatusCritical
	case p.HealthFactor < warningBand:
		return StatusWarning
	case p.HealthFactor < cautionBand:
		return StatusCaution
	default:
		return StatusSafe
	}
}

// RiskUsage is the share of the liquidation threshold consumed by the current ratio, in percent.
func RiskUsage(p Position) float64 {
	if p.LiquidationThresholdPct <= 0 {
		return 0
	}
	return p.Ratio / p.LiquidationThresholdPct * 100
}

// IsFinite reports whether a health factor can be compared or stored as a regular number.
func IsFinite(hf float64) bool {
	return !math.IsInf(hf, 0) && !math.IsNaN(hf)
}
