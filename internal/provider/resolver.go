package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/chain"
	"position-health-alerts/internal/health"
)

// Caller is the slice of an RPC client the resolver needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a Caller for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (Caller, error)

// DialEthclient is the default Dialer.
func DialEthclient(ctx context.Context, rpcURL string) (Caller, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// Options parameterise the vault resolver provider.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	RequestTimeout    time.Duration
	Dial              Dialer
}

// VaultResolver reads positions through each chain's resolver contract.
type VaultResolver struct {
	opts     Options
	chains   *chain.Registry
	logger   zerolog.Logger
	tokens   *tokenCache
	mu       sync.Mutex
	clients  map[string]Caller
	limiters map[string]*rate.Limiter
}

// NewVaultResolver builds a provider over the configured chains. RPC
// connections are dialled on first use.
func NewVaultResolver(chains *chain.Registry, opts Options, logger zerolog.Logger) *VaultResolver {
	if opts.Dial == nil {
		opts.Dial = DialEthclient
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &VaultResolver{
		opts:     opts,
		chains:   chains,
		logger:   logger.With().Str("component", "vault_resolver").Logger(),
		tokens:   newTokenCache(),
		clients:  make(map[string]Caller),
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchPosition reads one position by NFT id.
func (r *VaultResolver) FetchPosition(ctx context.Context, chainKey string, positionID int64) (health.Position, error) {
	const op = "provider.fetch_position"

	c, ok := r.chains.Lookup(chainKey)
	if !ok {
		return health.Position{}, apperrors.Validation(op, "unknown chain %q", chainKey)
	}
	if positionID <= 0 {
		return health.Position{}, apperrors.Provider(op, fmt.Errorf("%w: id %d", ErrNotFound, positionID))
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()

	view, err := r.positionByNftID(ctx, c, positionID)
	if err != nil {
		return health.Position{}, apperrors.Provider(op, fmt.Errorf("position %d on %s: %w", positionID, c.Key, err))
	}
	if view.Owner == (common.Address{}) {
		return health.Position{}, apperrors.Provider(op, fmt.Errorf("position %d on %s: %w", positionID, c.Key, ErrNotFound))
	}

	return r.evaluate(ctx, c, view), nil
}

// FetchPositionsForAddress reads every position owned by address.
func (r *VaultResolver) FetchPositionsForAddress(ctx context.Context, chainKey, address string) ([]health.Position, error) {
	const op = "provider.fetch_positions_for_address"

	c, ok := r.chains.Lookup(chainKey)
	if !ok {
		return nil, apperrors.Validation(op, "unknown chain %q", chainKey)
	}
	if !common.IsHexAddress(address) {
		return nil, apperrors.Validation(op, "invalid address %q", address)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()

	views, err := r.positionsByUser(ctx, c, common.HexToAddress(address))
	if err != nil {
		return nil, apperrors.Provider(op, fmt.Errorf("positions of %s on %s: %w", address, c.Key, err))
	}

	positions := make([]health.Position, 0, len(views))
	for _, view := range views {
		if view.Owner == (common.Address{}) {
			continue
		}
		positions = append(positions, r.evaluate(ctx, c, view))
	}
	return positions, nil
}

func (r *VaultResolver) positionByNftID(ctx context.Context, c chain.Chain, positionID int64) (positionView, error) {
	values, err := r.call(ctx, c, common.HexToAddress(c.VaultResolver), "positionByNftId", big.NewInt(positionID))
	if err != nil {
		return positionView{}, err
	}
	pos, err := decode[userPosition](values, 0)
	if err != nil {
		return positionView{}, err
	}
	vault, err := decode[vaultEntireData](values, 1)
	if err != nil {
		return positionView{}, err
	}
	return newPositionView(pos, vault), nil
}

func (r *VaultResolver) positionsByUser(ctx context.Context, c chain.Chain, owner common.Address) ([]positionView, error) {
	values, err := r.call(ctx, c, common.HexToAddress(c.VaultResolver), "positionsByUser", owner)
	if err != nil {
		return nil, err
	}
	positions, err := decode[[]userPosition](values, 0)
	if err != nil {
		return nil, err
	}
	vaults, err := decode[[]vaultEntireData](values, 1)
	if err != nil {
		return nil, err
	}
	if len(positions) != len(vaults) {
		return nil, fmt.Errorf("positionsByUser returned %d positions and %d vaults", len(positions), len(vaults))
	}

	views := make([]positionView, len(positions))
	for i := range positions {
		views[i] = newPositionView(positions[i], vaults[i])
	}
	return views, nil
}

// Close releases every dialled RPC client.
func (r *VaultResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, client := range r.clients {
		client.Close()
		delete(r.clients, key)
	}
}

func (r *VaultResolver) evaluate(ctx context.Context, c chain.Chain, view positionView) health.Position {
	supply := r.tokenInfo(ctx, c, view.SupplyToken)
	borrow := r.tokenInfo(ctx, c, view.BorrowToken)

	return health.Evaluate(health.RawPosition{
		PositionID:              bigToInt64(view.NftId),
		Owner:                   strings.ToLower(view.Owner.Hex()),
		Vault:                   strings.ToLower(view.Vault.Hex()),
		Chain:                   c.Key,
		IsLiquidated:            view.IsLiquidated,
		SupplyToken:             supply.Symbol,
		SupplyDecimals:          supply.Decimals,
		SupplyRaw:               view.Supply,
		BorrowToken:             borrow.Symbol,
		BorrowDecimals:          borrow.Decimals,
		BorrowRaw:               view.Borrow,
		OraclePrice:             view.OraclePrice,
		LiquidationThresholdBps: uint64(view.LiquidationThreshold),
		CollateralFactorBps:     uint64(view.CollateralFactor),
	})
}

// tokenInfo falls back to 18 decimals when metadata cannot be read.
func (r *VaultResolver) tokenInfo(ctx context.Context, c chain.Chain, token common.Address) tokenInfo {
	addr := token.Hex()
	if info, ok := r.tokens.get(c.Key, addr); ok {
		return info
	}

	info, err := r.readTokenInfo(ctx, c, token)
	if err != nil {
		r.logger.Warn().Err(err).Str("chain", c.Key).Str("token", addr).Msg("token metadata unavailable")
		return unknownToken
	}
	r.tokens.put(c.Key, addr, info)
	return info
}

func (r *VaultResolver) readTokenInfo(ctx context.Context, c chain.Chain, token common.Address) (tokenInfo, error) {
	values, err := r.call(ctx, c, token, "symbol")
	if err != nil {
		return tokenInfo{}, err
	}
	symbol, err := decode[string](values, 0)
	if err != nil {
		return tokenInfo{}, err
	}
	if values, err = r.call(ctx, c, token, "decimals"); err != nil {
		return tokenInfo{}, err
	}
	decimals, err := decode[uint8](values, 0)
	if err != nil {
		return tokenInfo{}, err
	}
	return tokenInfo{Symbol: symbol, Decimals: decimals}, nil
}

// call packs, sends and unpacks a read-only contract call. Reverts map to
// ErrNotFound and everything else on the wire to ErrUnreachable.
func (r *VaultResolver) call(ctx context.Context, c chain.Chain, to common.Address, method string, args ...any) ([]any, error) {
	contract := erc20ABI
	if _, ok := resolverABI.Methods[method]; ok {
		contract = resolverABI
	}

	payload, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	client, err := r.client(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := r.limiter(c.Key).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate wait: %v", ErrUnreachable, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s reverted", ErrNotFound, method)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, method, err)
	}

	values, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *VaultResolver) client(ctx context.Context, c chain.Chain) (Caller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[c.Key]; ok {
		return client, nil
	}
	if c.RPCURL == "" {
		return nil, fmt.Errorf("%w: no rpc url for %s", ErrUnreachable, c.Key)
	}

	client, err := r.opts.Dial(ctx, c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, c.Key, err)
	}
	r.clients[c.Key] = client
	r.logger.Info().Str("chain", c.Key).Msg("rpc client connected")
	return client, nil
}

func (r *VaultResolver) limiter(chainKey string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.limiters[chainKey]
	if !ok {
		limit := rate.Inf
		if r.opts.RequestsPerSecond > 0 {
			limit = rate.Limit(r.opts.RequestsPerSecond)
		}
		lim = rate.NewLimiter(limit, r.opts.Burst)
		r.limiters[chainKey] = lim
	}
	return lim
}

func isRevert(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func bigToInt64(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}

var _ Provider = (*VaultResolver)(nil)
