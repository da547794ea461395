package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"position-health-alerts/internal/health"
	"position-health-alerts/internal/monitor"
	"position-health-alerts/internal/quota"
)

func (a *App) newLookup(ctx context.Context) (*monitor.Lookup, func(), error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	chains, err := a.chains()
	if err != nil {
		st.close()
		return nil, nil, err
	}
	resolver := a.newProvider(chains)
	closer := func() {
		resolver.Close()
		st.close()
	}
	return monitor.NewLookup(resolver, chains, a.newLedger(st), a.Logger), closer, nil
}

// LookupPosition finds a position id on every configured chain.
func (a *App) LookupPosition(ctx context.Context, userID, positionID int64) error {
	lookup, closer, err := a.newLookup(ctx)
	if err != nil {
		return err
	}
	defer closer()

	hits, q, err := lookup.LookupPosition(ctx, userID, positionID)
	if err != nil {
		return err
	}
	for _, hit := range hits {
		fmt.Fprintf(a.Out, "Position #%d on %s\n", hit.Position.PositionID, hit.Chain.Name)
		fmt.Fprintf(a.Out, "Owner: %s\n", hit.Chain.ExplorerURL(hit.Position.Owner))
		writePosition(a.Out, hit.Position)
		fmt.Fprintln(a.Out)
	}
	writeQuota(a.Out, q)
	return nil
}

// LookupAddress lists an address's positions on every configured chain.
func (a *App) LookupAddress(ctx context.Context, userID int64, address string) error {
	lookup, closer, err := a.newLookup(ctx)
	if err != nil {
		return err
	}
	defer closer()

	hits, q, err := lookup.LookupAddress(ctx, userID, address)
	if err != nil {
		return err
	}
	for _, hit := range hits {
		fmt.Fprintf(a.Out, "%s: %d position(s)\n", hit.Chain.Name, len(hit.Positions))
		for _, pos := range hit.Positions {
			fmt.Fprintf(a.Out, "\nPosition #%d\n", pos.PositionID)
			writePosition(a.Out, pos)
		}
		fmt.Fprintln(a.Out)
	}
	writeQuota(a.Out, q)
	return nil
}

// Stats prints a user's lookup counts.
func (a *App) Stats(ctx context.Context, userID int64) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	stats, err := a.newLedger(st).Stats(ctx, userID)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Last 24h\t%d\n", stats.Last24h)
	fmt.Fprintf(writer, "Last 7d\t%d\n", stats.Last7d)
	fmt.Fprintf(writer, "Total\t%d\n", stats.Total)
	for _, kind := range []string{quota.TypePosition, quota.TypeAddress} {
		fmt.Fprintf(writer, "  %s (24h)\t%d\n", kind, stats.ByType[kind])
	}
	fmt.Fprintf(writer, "Remaining today\t%d/%d\n", stats.RemainingToday, stats.Limit)
	return writer.Flush()
}

func writePosition(out io.Writer, pos health.Position) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if pos.IsLiquidated {
		fmt.Fprintln(writer, "Status\tLIQUIDATED")
	}
	fmt.Fprintf(writer, "Collateral\t%s %s\t$%s\n", amount(pos.SupplyAmount, 6), pos.SupplyToken, amount(pos.SupplyUSD, 2))
	fmt.Fprintf(writer, "Debt\t%s %s\t$%s\n", amount(pos.BorrowAmount, 6), pos.BorrowToken, amount(pos.BorrowUSD, 2))
	fmt.Fprintf(writer, "Ratio\t%s%%\t(liquidation at %s%%)\n", amount(pos.Ratio, 2), amount(pos.LiquidationThresholdPct, 2))
	fmt.Fprintf(writer, "Health factor\t%s\t%s\n", healthFactor(pos.HealthFactor), health.StatusOf(pos))
	fmt.Fprintf(writer, "Risk usage\t%s%%\n", amount(health.RiskUsage(pos), 1))
	if pos.UnpricedDebt {
		fmt.Fprintln(writer, "Warning\tdebt outstanding against zero-valued collateral")
	}
	_ = writer.Flush()
}

func writeQuota(out io.Writer, q quota.Quota) {
	fmt.Fprintf(out, "Queries remaining today: %d/%d\n", q.Remaining, q.Limit)
}

func amount(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func healthFactor(hf float64) string {
	if math.IsInf(hf, 1) {
		return "∞"
	}
	return amount(hf, 4)
}
