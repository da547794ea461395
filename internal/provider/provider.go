package provider

import (
	"context"
	"errors"

	"position-health-alerts/internal/health"
)

var (
	// ErrNotFound reports a position id or address with no position on the chain.
	ErrNotFound = errors.New("position not found")
	// ErrUnreachable reports an RPC endpoint that could not be dialled or answered with a transport error.
	ErrUnreachable = errors.New("chain unreachable")
)

// Provider reads lending positions from a chain.
type Provider interface {
	FetchPosition(ctx context.Context, chainKey string, positionID int64) (health.Position, error)
	FetchPositionsForAddress(ctx context.Context, chainKey, address string) ([]health.Position, error)
}
