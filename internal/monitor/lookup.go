package monitor

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/chain"
	"position-health-alerts/internal/health"
	"position-health-alerts/internal/provider"
	"position-health-alerts/internal/quota"
)

// PositionHit is a position found on one chain.
type PositionHit struct {
	Chain    chain.Chain
	Position health.Position
}

// AddressHit lists an address's positions on one chain.
type AddressHit struct {
	Chain     chain.Chain
	Positions []health.Position
}

// Lookup answers user-initiated queries across every configured chain,
// including chains the periodic scan skips. Each lookup spends one unit of
// the user's daily allowance.
type Lookup struct {
	provider provider.Provider
	chains   *chain.Registry
	ledger   *quota.Ledger
	logger   zerolog.Logger
}

// NewLookup builds a Lookup.
func NewLookup(p provider.Provider, chains *chain.Registry, ledger *quota.Ledger, logger zerolog.Logger) *Lookup {
	return &Lookup{
		provider: p,
		chains:   chains,
		ledger:   ledger,
		logger:   logger.With().Str("component", "lookup").Logger(),
	}
}

// LookupPosition searches every chain for a position id.
func (l *Lookup) LookupPosition(ctx context.Context, userID, positionID int64) ([]PositionHit, quota.Quota, error) {
	const op = "monitor.lookup_position"

	if positionID <= 0 {
		return nil, quota.Quota{}, apperrors.Validation(op, "position id must be positive, got %d", positionID)
	}
	q, err := l.acquire(ctx, op, userID, quota.TypePosition, strconv.FormatInt(positionID, 10))
	if err != nil {
		return nil, q, err
	}

	chains := l.chains.All()
	found := make([]*health.Position, len(chains))
	errs := make([]error, len(chains))

	var g errgroup.Group
	for i, c := range chains {
		g.Go(func() error {
			pos, err := l.provider.FetchPosition(ctx, c.Key, positionID)
			if err != nil {
				errs[i] = err
				return nil
			}
			found[i] = &pos
			return nil
		})
	}
	_ = g.Wait()

	hits := make([]PositionHit, 0, 1)
	for i, c := range chains {
		if found[i] != nil {
			hits = append(hits, PositionHit{Chain: c, Position: *found[i]})
		}
	}
	if len(hits) == 0 {
		return nil, q, l.missError(op, chains, errs)
	}
	return hits, q, nil
}

// LookupAddress lists an address's positions on every chain that has any.
func (l *Lookup) LookupAddress(ctx context.Context, userID int64, address string) ([]AddressHit, quota.Quota, error) {
	const op = "monitor.lookup_address"

	normalized, err := NormalizeAddress(op, address)
	if err != nil {
		return nil, quota.Quota{}, err
	}
	q, err := l.acquire(ctx, op, userID, quota.TypeAddress, normalized)
	if err != nil {
		return nil, q, err
	}

	chains := l.chains.All()
	found := make([][]health.Position, len(chains))
	errs := make([]error, len(chains))

	var g errgroup.Group
	for i, c := range chains {
		g.Go(func() error {
			positions, err := l.provider.FetchPositionsForAddress(ctx, c.Key, normalized)
			if err != nil {
				errs[i] = err
				return nil
			}
			found[i] = positions
			return nil
		})
	}
	_ = g.Wait()

	hits := make([]AddressHit, 0, len(chains))
	for i, c := range chains {
		if len(found[i]) > 0 {
			hits = append(hits, AddressHit{Chain: c, Positions: found[i]})
		}
	}
	if len(hits) == 0 {
		return nil, q, l.missError(op, chains, errs)
	}
	return hits, q, nil
}

func (l *Lookup) acquire(ctx context.Context, op string, userID int64, queryType, value string) (quota.Quota, error) {
	q := l.ledger.Acquire(ctx, userID, queryType, value)
	if !q.Allowed {
		return q, apperrors.New(apperrors.KindQuota, op, &QuotaExceededError{Quota: q})
	}
	return q, nil
}

// missError reports not-found when every chain answered, and a provider error
// when at least one chain could not be reached.
func (l *Lookup) missError(op string, chains []chain.Chain, errs []error) error {
	var unreachable []error
	for i, err := range errs {
		if err == nil || errors.Is(err, provider.ErrNotFound) {
			continue
		}
		l.logger.Warn().Err(err).Str("chain", chains[i].Key).Msg("lookup failed on chain")
		unreachable = append(unreachable, err)
	}
	if len(unreachable) > 0 {
		return apperrors.Provider(op, errors.Join(append([]error{ErrPositionNotFound}, unreachable...)...))
	}
	return apperrors.New(apperrors.KindNotFound, op, ErrPositionNotFound)
}
