package health

import "math/big"

// RawPosition carries the on-chain fields needed to value a vault position.
// OraclePrice is a 1e27 fixed-point price of one supply atom expressed in borrow-token units.
type RawPosition struct {
	PositionID   int64
	Owner        string
	Vault        string
	Chain        string
	IsLiquidated bool

	SupplyToken    string
	SupplyDecimals uint8
	SupplyRaw      *big.Int

	BorrowToken    string
	BorrowDecimals uint8
	BorrowRaw      *big.Int

	OraclePrice             *big.Int
	LiquidationThresholdBps uint64
	CollateralFactorBps     uint64
}

// Position is the evaluated, display-ready view of a vault position.
// It is recomputed every cycle and never persisted directly.
type Position struct {
	PositionID   int64
	Owner        string
	Vault        string
	Chain        string
	IsLiquidated bool

	SupplyToken  string
	SupplyAmount float64
	SupplyUSD    float64

	BorrowToken  string
	BorrowAmount float64
	BorrowUSD    float64

	// Ratio is debt as a percentage of collateral value.
	Ratio                   float64
	HealthFactor            float64
	LiquidationThresholdPct float64
	CollateralFactorPct     float64

	// UnpricedDebt flags debt against zero-valued collateral; HealthFactor is +Inf in that case.
	UnpricedDebt bool
}
