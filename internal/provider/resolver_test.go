package provider

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/chain"
)

var (
	testOwner      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testVault      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testSupplyTok  = common.HexToAddress("0x30000000000000000000000000000000000000aa")
	testBorrowUSDC = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
)

// Word counts of the resolver's static output tuples.
const (
	userPositionWords    = 12
	vaultEntireDataWords = 95

	// offsets inside VaultEntireData
	supplyTokenWord = 3 + 8
	borrowTokenWord = 3 + 10
	configsWord     = 3 + 18
)

// fluidPosition holds the fields the resolver reads out of a raw answer.
type fluidPosition struct {
	nftID        int64
	owner        common.Address
	liquidated   bool
	vault        common.Address
	supplyTokens [2]common.Address
	borrowTokens [2]common.Address
	supply       *big.Int
	borrow       *big.Int
	cf, lt       int64
	oraclePrice  *big.Int
}

func word(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}

func (p fluidPosition) userPosition() []common.Hash {
	w := make([]common.Hash, userPositionWords)
	w[0] = word(p.nftID)
	w[1] = common.BytesToHash(p.owner.Bytes())
	if p.liquidated {
		w[2] = word(1)
	}
	// tick, tickId and the before* amounts must not be mistaken for live values
	w[5] = word(77)
	w[6] = word(1)
	w[7] = word(1)
	w[9] = common.BigToHash(p.supply)
	w[10] = common.BigToHash(p.borrow)
	w[11] = word(3)
	return w
}

func (p fluidPosition) vaultData() []common.Hash {
	w := make([]common.Hash, vaultEntireDataWords)
	w[0] = common.BytesToHash(p.vault.Bytes())
	w[supplyTokenWord] = common.BytesToHash(p.supplyTokens[0].Bytes())
	w[supplyTokenWord+1] = common.BytesToHash(p.supplyTokens[1].Bytes())
	w[borrowTokenWord] = common.BytesToHash(p.borrowTokens[0].Bytes())
	w[borrowTokenWord+1] = common.BytesToHash(p.borrowTokens[1].Bytes())
	w[configsWord+2] = word(p.cf)
	w[configsWord+3] = word(p.lt)
	w[configsWord+9] = common.BigToHash(p.oraclePrice)
	w[configsWord+10] = word(5)
	w[vaultEntireDataWords-1] = word(42)
	return w
}

func flatten(words []common.Hash) []byte {
	out := make([]byte, 0, len(words)*32)
	for _, w := range words {
		out = append(out, w.Bytes()...)
	}
	return out
}

func encodePosition(p fluidPosition) []byte {
	return flatten(append(p.userPosition(), p.vaultData()...))
}

func encodePositions(ps []fluidPosition) []byte {
	n := int64(len(ps))
	words := []common.Hash{word(64), word(64 + 32*(1+n*userPositionWords)), word(n)}
	for _, p := range ps {
		words = append(words, p.userPosition()...)
	}
	words = append(words, word(n))
	for _, p := range ps {
		words = append(words, p.vaultData()...)
	}
	return flatten(words)
}

type fakeCaller struct {
	mu        sync.Mutex
	positions map[int64]fluidPosition
	byUser    map[common.Address][]fluidPosition
	symbols   map[common.Address]string
	decimals  map[common.Address]uint8
	err       error
	calls     map[string]int
	closed    bool
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		positions: make(map[int64]fluidPosition),
		byUser:    make(map[common.Address][]fluidPosition),
		symbols:   map[common.Address]string{testSupplyTok: "XETH"},
		decimals:  map[common.Address]uint8{testSupplyTok: 18},
		calls:     make(map[string]int),
	}
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	contract := resolverABI
	method, err := contract.MethodById(msg.Data[:4])
	if err != nil {
		contract = erc20ABI
		if method, err = contract.MethodById(msg.Data[:4]); err != nil {
			return nil, err
		}
	}
	f.calls[method.Name]++

	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "positionByNftId":
		id := args[0].(*big.Int).Int64()
		pos, ok := f.positions[id]
		if !ok {
			return nil, errors.New("execution reverted: invalid nft")
		}
		return encodePosition(pos), nil
	case "positionsByUser":
		return encodePositions(f.byUser[args[0].(common.Address)]), nil
	case "symbol":
		return method.Outputs.Pack(f.symbols[*msg.To])
	case "decimals":
		return method.Outputs.Pack(f.decimals[*msg.To])
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeCaller) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeCaller) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func testPosition(id int64) fluidPosition {
	// 1 XETH at 2000 USDC against 1000 USDC of debt: ratio 50%, LT 90% -> HF 1.8
	return fluidPosition{
		nftID:        id,
		owner:        testOwner,
		vault:        testVault,
		supplyTokens: [2]common.Address{testSupplyTok},
		borrowTokens: [2]common.Address{testBorrowUSDC},
		supply:       new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		borrow:       big.NewInt(1_000_000_000),
		cf:           8500,
		lt:           9000,
		oraclePrice:  new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
	}
}

func newTestResolver(t *testing.T, fake *fakeCaller, dialErr error) (*VaultResolver, *int) {
	t.Helper()
	reg, err := chain.NewRegistry([]chain.Chain{
		{Key: "eth", ChainID: 1, RPCURL: "http://eth.test", VaultResolver: "0x394Ce45678e0019c0045194a561E2bEd0FCc6Cf0", Monitored: true},
		{Key: "base", ChainID: 8453, RPCURL: "http://base.test", VaultResolver: "0x394Ce45678e0019c0045194a561E2bEd0FCc6Cf0", Monitored: true, Order: 1},
	})
	require.NoError(t, err)

	dials := 0
	dial := func(context.Context, string) (Caller, error) {
		dials++
		if dialErr != nil {
			return nil, dialErr
		}
		return fake, nil
	}
	return NewVaultResolver(reg, Options{Dial: dial}, zerolog.Nop()), &dials
}

func TestFetchPositionEvaluates(t *testing.T) {
	fake := newFakeCaller()
	fake.positions[9540] = testPosition(9540)
	r, dials := newTestResolver(t, fake, nil)

	pos, err := r.FetchPosition(context.Background(), "eth", 9540)
	require.NoError(t, err)

	assert.Equal(t, int64(9540), pos.PositionID)
	assert.Equal(t, "eth", pos.Chain)
	assert.Equal(t, "XETH", pos.SupplyToken)
	assert.Equal(t, "USDC", pos.BorrowToken)
	assert.InDelta(t, 2000, pos.SupplyUSD, 1e-9)
	assert.InDelta(t, 1000, pos.BorrowUSD, 1e-9)
	assert.InDelta(t, 50, pos.Ratio, 1e-9)
	assert.InDelta(t, 1.8, pos.HealthFactor, 1e-9)
	assert.InDelta(t, 85, pos.CollateralFactorPct, 1e-9)
	assert.Equal(t, "0x1000000000000000000000000000000000000001", pos.Owner)

	_, err = r.FetchPosition(context.Background(), "eth", 9540)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count("symbol"), "token metadata is cached")
	assert.Equal(t, 1, *dials, "client is dialled once per chain")
}

func TestFetchPositionNotFound(t *testing.T) {
	fake := newFakeCaller()
	empty := testPosition(7)
	empty.owner = common.Address{}
	fake.positions[7] = empty
	r, _ := newTestResolver(t, fake, nil)

	_, err := r.FetchPosition(context.Background(), "eth", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))

	_, err = r.FetchPosition(context.Background(), "eth", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.FetchPosition(context.Background(), "eth", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchPositionUnreachable(t *testing.T) {
	fake := newFakeCaller()
	fake.err = errors.New("connection refused")
	r, _ := newTestResolver(t, fake, nil)

	_, err := r.FetchPosition(context.Background(), "eth", 1)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrNotFound)

	r, _ = newTestResolver(t, newFakeCaller(), errors.New("dns failure"))
	_, err = r.FetchPosition(context.Background(), "base", 1)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchPositionUnknownChain(t *testing.T) {
	r, _ := newTestResolver(t, newFakeCaller(), nil)
	_, err := r.FetchPosition(context.Background(), "solana", 1)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestFetchPositionsForAddress(t *testing.T) {
	fake := newFakeCaller()
	closed := testPosition(2)
	closed.owner = common.Address{}
	fake.byUser[testOwner] = []fluidPosition{testPosition(1), closed, testPosition(3)}
	r, _ := newTestResolver(t, fake, nil)

	positions, err := r.FetchPositionsForAddress(context.Background(), "base", testOwner.Hex())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, int64(1), positions[0].PositionID)
	assert.Equal(t, int64(3), positions[1].PositionID)
	assert.Equal(t, "base", positions[1].Chain)

	positions, err = r.FetchPositionsForAddress(context.Background(), "base", "0x9000000000000000000000000000000000000009")
	require.NoError(t, err)
	assert.Empty(t, positions)

	_, err = r.FetchPositionsForAddress(context.Background(), "base", "not-an-address")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestTokenDecimalsReadFromContract(t *testing.T) {
	fake := newFakeCaller()
	pos := testPosition(5)
	odd := common.HexToAddress("0x4000000000000000000000000000000000000004")
	pos.supplyTokens[0] = odd
	fake.positions[5] = pos
	fake.symbols[odd] = "ODD"
	fake.decimals[odd] = 8
	r, _ := newTestResolver(t, fake, nil)

	got, err := r.FetchPosition(context.Background(), "eth", 5)
	require.NoError(t, err)
	assert.Equal(t, "ODD", got.SupplyToken)
	assert.InDelta(t, 1e10, got.SupplyAmount, 1e-3)
}

func TestCloseReleasesClients(t *testing.T) {
	fake := newFakeCaller()
	fake.positions[1] = testPosition(1)
	r, _ := newTestResolver(t, fake, nil)

	_, err := r.FetchPosition(context.Background(), "eth", 1)
	require.NoError(t, err)
	r.Close()
	assert.True(t, fake.closed)
}

func TestFetchPositionReadsResolverLayout(t *testing.T) {
	fake := newFakeCaller()
	pos := testPosition(9540)
	pos.liquidated = true
	// smart collateral vaults leave token0 unset
	pos.supplyTokens = [2]common.Address{{}, testSupplyTok}
	pos.lt = 8000
	fake.positions[9540] = pos
	r, _ := newTestResolver(t, fake, nil)

	got, err := r.FetchPosition(context.Background(), "eth", 9540)
	require.NoError(t, err)

	assert.Equal(t, strings.ToLower(testVault.Hex()), got.Vault)
	assert.Equal(t, "XETH", got.SupplyToken)
	assert.Equal(t, "USDC", got.BorrowToken)
	assert.True(t, got.IsLiquidated)
	assert.InDelta(t, 1, got.SupplyAmount, 1e-12)
	assert.InDelta(t, 1000, got.BorrowAmount, 1e-9)
	assert.InDelta(t, 80, got.LiquidationThresholdPct, 1e-9)
	assert.InDelta(t, 1.6, got.HealthFactor, 1e-9)
}

func TestFetchPositionsForAddressDecodesEveryVault(t *testing.T) {
	fake := newFakeCaller()
	second := testPosition(2)
	second.borrow = big.NewInt(500_000_000)
	third := testPosition(3)
	third.lt = 8000
	fake.byUser[testOwner] = []fluidPosition{testPosition(1), second, third}
	r, _ := newTestResolver(t, fake, nil)

	positions, err := r.FetchPositionsForAddress(context.Background(), "eth", testOwner.Hex())
	require.NoError(t, err)
	require.Len(t, positions, 3)
	assert.InDelta(t, 1.8, positions[0].HealthFactor, 1e-9)
	assert.InDelta(t, 3.6, positions[1].HealthFactor, 1e-9)
	assert.InDelta(t, 1.6, positions[2].HealthFactor, 1e-9)
	for _, p := range positions {
		assert.Equal(t, "USDC", p.BorrowToken)
		assert.Equal(t, strings.ToLower(testVault.Hex()), p.Vault)
	}
}

func TestResolverABIShape(t *testing.T) {
	out := resolverABI.Methods["positionByNftId"].Outputs
	require.Len(t, out, 2)
	assert.Len(t, out[0].Type.TupleElems, userPositionWords)
	assert.Len(t, out[1].Type.TupleElems, 11)

	byUser := resolverABI.Methods["positionsByUser"].Outputs
	require.Len(t, byUser, 2)
	assert.Equal(t, abi.SliceTy, byUser[0].Type.T)
	assert.Equal(t, abi.SliceTy, byUser[1].Type.T)
}
