package health

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	oraclePriceExp = 27
	ratioPrecision = 18
)

var hundred = decimal.NewFromInt(100)

// Evaluate values a raw position and derives its collateral ratio and health factor.
//
//	supply_usd    = supply_raw * oracle_price / 1e27 / 10^borrow_decimals
//	borrow_usd    = borrow_raw / 10^borrow_decimals
//	ratio         = borrow_usd / supply_usd * 100   (0 unless both sides are positive)
//	health_factor = liquidation_threshold_pct / ratio (+Inf when ratio is 0)
//
// A position with debt but zero-valued collateral therefore reports +Inf; it is
// flagged through UnpricedDebt instead of being reclassified.
func Evaluate(raw RawPosition) Position {
	supplyRaw := fromBig(raw.SupplyRaw)
	borrowRaw := fromBig(raw.BorrowRaw)
	price := fromBig(raw.OraclePrice)

	supplyAmount := supplyRaw.Shift(-int32(raw.SupplyDecimals))
	borrowAmount := borrowRaw.Shift(-int32(raw.BorrowDecimals))
	supplyUSD := supplyRaw.Mul(price).Shift(-(oraclePriceExp + int32(raw.BorrowDecimals)))
	borrowUSD := borrowAmount

	ratio := 0.0
	if supplyUSD.IsPositive() && borrowUSD.IsPositive() {
		ratio = borrowUSD.DivRound(supplyUSD, ratioPrecision).Mul(hundred).InexactFloat64()
	}

	liqPct := float64(raw.LiquidationThresholdBps) / 100
	healthFactor := math.Inf(1)
	if ratio > 0 {
		healthFactor = liqPct / ratio
	}

	return Position{
		PositionID:              raw.PositionID,
		Owner:                   raw.Owner,
		Vault:                   raw.Vault,
		Chain:                   raw.Chain,
		IsLiquidated:            raw.IsLiquidated,
		SupplyToken:             raw.SupplyToken,
		SupplyAmount:            supplyAmount.InexactFloat64(),
		SupplyUSD:               supplyUSD.InexactFloat64(),
		BorrowToken:             raw.BorrowToken,
		BorrowAmount:            borrowAmount.InexactFloat64(),
		BorrowUSD:               borrowUSD.InexactFloat64(),
		Ratio:                   ratio,
		HealthFactor:            healthFactor,
		LiquidationThresholdPct: liqPct,
		CollateralFactorPct:     float64(raw.CollateralFactorBps) / 100,
		UnpricedDebt:            !supplyUSD.IsPositive() && borrowUSD.IsPositive(),
	}
}

func fromBig(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}
