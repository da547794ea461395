package provider

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Output layout of the Fluid VaultResolver. Both position methods return
// (UserPosition, VaultEntireData); every nested struct is static, so the
// tuples are encoded inline and the component lists must be complete.

const userPositionComponents = `[
	{"internalType":"uint256","name":"nftId","type":"uint256"},
	{"internalType":"address","name":"owner","type":"address"},
	{"internalType":"bool","name":"isLiquidated","type":"bool"},
	{"internalType":"bool","name":"isSupplyPosition","type":"bool"},
	{"internalType":"int256","name":"tick","type":"int256"},
	{"internalType":"uint256","name":"tickId","type":"uint256"},
	{"internalType":"uint256","name":"beforeSupply","type":"uint256"},
	{"internalType":"uint256","name":"beforeBorrow","type":"uint256"},
	{"internalType":"uint256","name":"beforeDustBorrow","type":"uint256"},
	{"internalType":"uint256","name":"supply","type":"uint256"},
	{"internalType":"uint256","name":"borrow","type":"uint256"},
	{"internalType":"uint256","name":"dustBorrow","type":"uint256"}
]`

const tokensComponents = `[
	{"internalType":"address","name":"token0","type":"address"},
	{"internalType":"address","name":"token1","type":"address"}
]`

const constantViewsComponents = `[
	{"internalType":"address","name":"liquidity","type":"address"},
	{"internalType":"address","name":"factory","type":"address"},
	{"internalType":"address","name":"operateImplementation","type":"address"},
	{"internalType":"address","name":"adminImplementation","type":"address"},
	{"internalType":"address","name":"secondaryImplementation","type":"address"},
	{"internalType":"address","name":"deployer","type":"address"},
	{"internalType":"address","name":"supply","type":"address"},
	{"internalType":"address","name":"borrow","type":"address"},
	{"components":` + tokensComponents + `,"internalType":"struct IFluidVault.Tokens","name":"supplyToken","type":"tuple"},
	{"components":` + tokensComponents + `,"internalType":"struct IFluidVault.Tokens","name":"borrowToken","type":"tuple"},
	{"internalType":"uint256","name":"vaultId","type":"uint256"},
	{"internalType":"uint256","name":"vaultType","type":"uint256"},
	{"internalType":"bytes32","name":"supplyExchangePriceSlot","type":"bytes32"},
	{"internalType":"bytes32","name":"borrowExchangePriceSlot","type":"bytes32"},
	{"internalType":"bytes32","name":"userSupplySlot","type":"bytes32"},
	{"internalType":"bytes32","name":"userBorrowSlot","type":"bytes32"}
]`

const configsComponents = `[
	{"internalType":"uint16","name":"supplyRateMagnifier","type":"uint16"},
	{"internalType":"uint16","name":"borrowRateMagnifier","type":"uint16"},
	{"internalType":"uint16","name":"collateralFactor","type":"uint16"},
	{"internalType":"uint16","name":"liquidationThreshold","type":"uint16"},
	{"internalType":"uint16","name":"liquidationMaxLimit","type":"uint16"},
	{"internalType":"uint16","name":"withdrawalGap","type":"uint16"},
	{"internalType":"uint16","name":"liquidationPenalty","type":"uint16"},
	{"internalType":"uint16","name":"borrowFee","type":"uint16"},
	{"internalType":"address","name":"oracle","type":"address"},
	{"internalType":"uint256","name":"oraclePriceOperate","type":"uint256"},
	{"internalType":"uint256","name":"oraclePriceLiquidate","type":"uint256"},
	{"internalType":"address","name":"rebalancer","type":"address"},
	{"internalType":"uint256","name":"lastUpdateTimestamp","type":"uint256"}
]`

const exchangePricesComponents = `[
	{"internalType":"uint256","name":"lastStoredLiquiditySupplyExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"lastStoredLiquidityBorrowExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"lastStoredVaultSupplyExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"lastStoredVaultBorrowExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"liquiditySupplyExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"liquidityBorrowExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"vaultSupplyExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"vaultBorrowExchangePrice","type":"uint256"},
	{"internalType":"uint256","name":"supplyRateLiquidity","type":"uint256"},
	{"internalType":"uint256","name":"borrowRateLiquidity","type":"uint256"},
	{"internalType":"int256","name":"supplyRateVault","type":"int256"},
	{"internalType":"int256","name":"borrowRateVault","type":"int256"},
	{"internalType":"int256","name":"rewardsOrFeeRateSupply","type":"int256"},
	{"internalType":"int256","name":"rewardsOrFeeRateBorrow","type":"int256"}
]`

const totalSupplyAndBorrowComponents = `[
	{"internalType":"uint256","name":"totalSupplyVault","type":"uint256"},
	{"internalType":"uint256","name":"totalBorrowVault","type":"uint256"},
	{"internalType":"uint256","name":"totalSupplyLiquidityOrDex","type":"uint256"},
	{"internalType":"uint256","name":"totalBorrowLiquidityOrDex","type":"uint256"},
	{"internalType":"uint256","name":"absorbedSupply","type":"uint256"},
	{"internalType":"uint256","name":"absorbedBorrow","type":"uint256"}
]`

const limitsComponents = `[
	{"internalType":"uint256","name":"withdrawLimit","type":"uint256"},
	{"internalType":"uint256","name":"withdrawableUntilLimit","type":"uint256"},
	{"internalType":"uint256","name":"withdrawable","type":"uint256"},
	{"internalType":"uint256","name":"borrowLimit","type":"uint256"},
	{"internalType":"uint256","name":"borrowableUntilLimit","type":"uint256"},
	{"internalType":"uint256","name":"borrowable","type":"uint256"},
	{"internalType":"uint256","name":"borrowLimitUtilization","type":"uint256"},
	{"internalType":"uint256","name":"minimumBorrowing","type":"uint256"}
]`

const branchStateComponents = `[
	{"internalType":"uint256","name":"status","type":"uint256"},
	{"internalType":"int256","name":"minimaTick","type":"int256"},
	{"internalType":"uint256","name":"debtFactor","type":"uint256"},
	{"internalType":"uint256","name":"partials","type":"uint256"},
	{"internalType":"uint256","name":"debtLiquidity","type":"uint256"},
	{"internalType":"uint256","name":"baseBranchId","type":"uint256"},
	{"internalType":"int256","name":"baseBranchMinima","type":"int256"}
]`

const vaultStateComponents = `[
	{"internalType":"uint256","name":"totalPositions","type":"uint256"},
	{"internalType":"int256","name":"topTick","type":"int256"},
	{"internalType":"uint256","name":"currentBranch","type":"uint256"},
	{"internalType":"uint256","name":"totalBranch","type":"uint256"},
	{"internalType":"uint256","name":"totalBorrow","type":"uint256"},
	{"internalType":"uint256","name":"totalSupply","type":"uint256"},
	{"components":` + branchStateComponents + `,"internalType":"struct Structs.CurrentBranchState","name":"currentBranchState","type":"tuple"}
]`

const userSupplyDataComponents = `[
	{"internalType":"bool","name":"modeWithInterest","type":"bool"},
	{"internalType":"uint256","name":"supply","type":"uint256"},
	{"internalType":"uint256","name":"withdrawalLimit","type":"uint256"},
	{"internalType":"uint256","name":"lastUpdateTimestamp","type":"uint256"},
	{"internalType":"uint256","name":"expandPercent","type":"uint256"},
	{"internalType":"uint256","name":"expandDuration","type":"uint256"},
	{"internalType":"uint256","name":"baseWithdrawalLimit","type":"uint256"},
	{"internalType":"uint256","name":"withdrawableUntilLimit","type":"uint256"},
	{"internalType":"uint256","name":"withdrawable","type":"uint256"}
]`

const userBorrowDataComponents = `[
	{"internalType":"bool","name":"modeWithInterest","type":"bool"},
	{"internalType":"uint256","name":"borrow","type":"uint256"},
	{"internalType":"uint256","name":"borrowLimit","type":"uint256"},
	{"internalType":"uint256","name":"lastUpdateTimestamp","type":"uint256"},
	{"internalType":"uint256","name":"expandPercent","type":"uint256"},
	{"internalType":"uint256","name":"expandDuration","type":"uint256"},
	{"internalType":"uint256","name":"baseBorrowLimit","type":"uint256"},
	{"internalType":"uint256","name":"maxBorrowLimit","type":"uint256"},
	{"internalType":"uint256","name":"borrowableUntilLimit","type":"uint256"},
	{"internalType":"uint256","name":"borrowable","type":"uint256"},
	{"internalType":"uint256","name":"borrowLimitUtilization","type":"uint256"}
]`

const vaultEntireDataComponents = `[
	{"internalType":"address","name":"vault","type":"address"},
	{"internalType":"bool","name":"isSmartCol","type":"bool"},
	{"internalType":"bool","name":"isSmartDebt","type":"bool"},
	{"components":` + constantViewsComponents + `,"internalType":"struct IFluidVault.ConstantViews","name":"constantVariables","type":"tuple"},
	{"components":` + configsComponents + `,"internalType":"struct Structs.Configs","name":"configs","type":"tuple"},
	{"components":` + exchangePricesComponents + `,"internalType":"struct Structs.ExchangePricesAndRates","name":"exchangePricesAndRates","type":"tuple"},
	{"components":` + totalSupplyAndBorrowComponents + `,"internalType":"struct Structs.TotalSupplyAndBorrow","name":"totalSupplyAndBorrow","type":"tuple"},
	{"components":` + limitsComponents + `,"internalType":"struct Structs.LimitsAndAvailability","name":"limitsAndAvailability","type":"tuple"},
	{"components":` + vaultStateComponents + `,"internalType":"struct Structs.VaultState","name":"vaultState","type":"tuple"},
	{"components":` + userSupplyDataComponents + `,"internalType":"struct FluidLiquidityResolverStructs.UserSupplyData","name":"liquidityUserSupplyData","type":"tuple"},
	{"components":` + userBorrowDataComponents + `,"internalType":"struct FluidLiquidityResolverStructs.UserBorrowData","name":"liquidityUserBorrowData","type":"tuple"}
]`

const resolverABIJSON = `[
	{"inputs":[{"internalType":"uint256","name":"nftId_","type":"uint256"}],"name":"positionByNftId",
	 "outputs":[
		{"components":` + userPositionComponents + `,"internalType":"struct Structs.UserPosition","name":"userPosition_","type":"tuple"},
		{"components":` + vaultEntireDataComponents + `,"internalType":"struct Structs.VaultEntireData","name":"vaultData_","type":"tuple"}
	 ],
	 "stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"user_","type":"address"}],"name":"positionsByUser",
	 "outputs":[
		{"components":` + userPositionComponents + `,"internalType":"struct Structs.UserPosition[]","name":"userPositions_","type":"tuple[]"},
		{"components":` + vaultEntireDataComponents + `,"internalType":"struct Structs.VaultEntireData[]","name":"vaultsData_","type":"tuple[]"}
	 ],
	 "stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var (
	resolverABI abi.ABI
	erc20ABI    abi.ABI
)

func init() {
	resolverABI = mustParseABI("vault resolver", resolverABIJSON)
	erc20ABI = mustParseABI("ERC-20", erc20ABIJSON)
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// The structs below mirror the resolver tuples field for field;
// abi.ConvertType copies nested tuples by position.

type userPosition struct {
	NftId            *big.Int
	Owner            common.Address
	IsLiquidated     bool
	IsSupplyPosition bool
	Tick             *big.Int
	TickId           *big.Int
	BeforeSupply     *big.Int
	BeforeBorrow     *big.Int
	BeforeDustBorrow *big.Int
	Supply           *big.Int
	Borrow           *big.Int
	DustBorrow       *big.Int
}

type tokenPair struct {
	Token0 common.Address
	Token1 common.Address
}

// primary returns token0, or token1 when token0 is unset.
func (p tokenPair) primary() common.Address {
	if p.Token0 == (common.Address{}) {
		return p.Token1
	}
	return p.Token0
}

type constantViews struct {
	Liquidity               common.Address
	Factory                 common.Address
	OperateImplementation   common.Address
	AdminImplementation     common.Address
	SecondaryImplementation common.Address
	Deployer                common.Address
	Supply                  common.Address
	Borrow                  common.Address
	SupplyToken             tokenPair
	BorrowToken             tokenPair
	VaultId                 *big.Int
	VaultType               *big.Int
	SupplyExchangePriceSlot [32]byte
	BorrowExchangePriceSlot [32]byte
	UserSupplySlot          [32]byte
	UserBorrowSlot          [32]byte
}

type vaultConfigs struct {
	SupplyRateMagnifier  uint16
	BorrowRateMagnifier  uint16
	CollateralFactor     uint16
	LiquidationThreshold uint16
	LiquidationMaxLimit  uint16
	WithdrawalGap        uint16
	LiquidationPenalty   uint16
	BorrowFee            uint16
	Oracle               common.Address
	OraclePriceOperate   *big.Int
	OraclePriceLiquidate *big.Int
	Rebalancer           common.Address
	LastUpdateTimestamp  *big.Int
}

type exchangePricesAndRates struct {
	LastStoredLiquiditySupplyExchangePrice *big.Int
	LastStoredLiquidityBorrowExchangePrice *big.Int
	LastStoredVaultSupplyExchangePrice     *big.Int
	LastStoredVaultBorrowExchangePrice     *big.Int
	LiquiditySupplyExchangePrice           *big.Int
	LiquidityBorrowExchangePrice           *big.Int
	VaultSupplyExchangePrice               *big.Int
	VaultBorrowExchangePrice               *big.Int
	SupplyRateLiquidity                    *big.Int
	BorrowRateLiquidity                    *big.Int
	SupplyRateVault                        *big.Int
	BorrowRateVault                        *big.Int
	RewardsOrFeeRateSupply                 *big.Int
	RewardsOrFeeRateBorrow                 *big.Int
}

type totalSupplyAndBorrow struct {
	TotalSupplyVault          *big.Int
	TotalBorrowVault          *big.Int
	TotalSupplyLiquidityOrDex *big.Int
	TotalBorrowLiquidityOrDex *big.Int
	AbsorbedSupply            *big.Int
	AbsorbedBorrow            *big.Int
}

type limitsAndAvailability struct {
	WithdrawLimit          *big.Int
	WithdrawableUntilLimit *big.Int
	Withdrawable           *big.Int
	BorrowLimit            *big.Int
	BorrowableUntilLimit   *big.Int
	Borrowable             *big.Int
	BorrowLimitUtilization *big.Int
	MinimumBorrowing       *big.Int
}

type currentBranchState struct {
	Status           *big.Int
	MinimaTick       *big.Int
	DebtFactor       *big.Int
	Partials         *big.Int
	DebtLiquidity    *big.Int
	BaseBranchId     *big.Int
	BaseBranchMinima *big.Int
}

type vaultState struct {
	TotalPositions     *big.Int
	TopTick            *big.Int
	CurrentBranch      *big.Int
	TotalBranch        *big.Int
	TotalBorrow        *big.Int
	TotalSupply        *big.Int
	CurrentBranchState currentBranchState
}

type userSupplyData struct {
	ModeWithInterest       bool
	Supply                 *big.Int
	WithdrawalLimit        *big.Int
	LastUpdateTimestamp    *big.Int
	ExpandPercent          *big.Int
	ExpandDuration         *big.Int
	BaseWithdrawalLimit    *big.Int
	WithdrawableUntilLimit *big.Int
	Withdrawable           *big.Int
}

type userBorrowData struct {
	ModeWithInterest       bool
	Borrow                 *big.Int
	BorrowLimit            *big.Int
	LastUpdateTimestamp    *big.Int
	ExpandPercent          *big.Int
	ExpandDuration         *big.Int
	BaseBorrowLimit        *big.Int
	MaxBorrowLimit         *big.Int
	BorrowableUntilLimit   *big.Int
	Borrowable             *big.Int
	BorrowLimitUtilization *big.Int
}

type vaultEntireData struct {
	Vault                   common.Address
	IsSmartCol              bool
	IsSmartDebt             bool
	ConstantVariables       constantViews
	Configs                 vaultConfigs
	ExchangePricesAndRates  exchangePricesAndRates
	TotalSupplyAndBorrow    totalSupplyAndBorrow
	LimitsAndAvailability   limitsAndAvailability
	VaultState              vaultState
	LiquidityUserSupplyData userSupplyData
	LiquidityUserBorrowData userBorrowData
}

// positionView is the part of a resolver answer the evaluator needs.
type positionView struct {
	NftId                *big.Int
	Owner                common.Address
	IsLiquidated         bool
	Vault                common.Address
	SupplyToken          common.Address
	BorrowToken          common.Address
	Supply               *big.Int
	Borrow               *big.Int
	CollateralFactor     uint16
	LiquidationThreshold uint16
	OraclePrice          *big.Int
}

func newPositionView(pos userPosition, vault vaultEntireData) positionView {
	return positionView{
		NftId:                pos.NftId,
		Owner:                pos.Owner,
		IsLiquidated:         pos.IsLiquidated,
		Vault:                vault.Vault,
		SupplyToken:          vault.ConstantVariables.SupplyToken.primary(),
		BorrowToken:          vault.ConstantVariables.BorrowToken.primary(),
		Supply:               pos.Supply,
		Borrow:               pos.Borrow,
		CollateralFactor:     vault.Configs.CollateralFactor,
		LiquidationThreshold: vault.Configs.LiquidationThreshold,
		OraclePrice:          vault.Configs.OraclePriceOperate,
	}
}

// decode converts the i-th unpacked output into T.
func decode[T any](values []any, i int) (out T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decode response: %v", rec)
		}
	}()
	if i >= len(values) {
		return out, fmt.Errorf("decode response: missing output %d", i)
	}
	return *abi.ConvertType(values[i], new(T)).(*T), nil
}
