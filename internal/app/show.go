package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// Alerts prints a user's recent alerts.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	if opts.Since <= 0 {
		return errors.New("since must be positive")
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	alerts, err := st.history.ListRecentAlerts(ctx, opts.UserID, time.Now().Add(-opts.Since), opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	chains, err := a.chains()
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tChain\tPosition\tType\tHealth\tMessage")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t#%d\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			chains.Name(alert.Chain),
			alert.PositionID,
			alert.AlertType,
			healthFactor(alert.HealthFactor),
			sanitizeInline(alert.Message),
		)
	}
	return writer.Flush()
}

// History prints the snapshots recorded for a position.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	chains, err := a.chains()
	if err != nil {
		return err
	}
	c, ok := chains.Lookup(opts.Chain)
	if !ok {
		return fmt.Errorf("unknown chain %q", opts.Chain)
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	snaps, err := st.history.PositionHistory(ctx, c.Key, opts.PositionID, opts.Limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(a.Out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tHealth\tRatio%\tSupply USD\tBorrow USD\tOwner")
	for _, snap := range snaps {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			snap.CreatedAt.UTC().Format(time.RFC3339),
			healthFactor(snap.HealthFactor),
			amount(snap.Ratio, 2),
			amount(snap.SupplyUSD, 2),
			amount(snap.BorrowUSD, 2),
			snap.OwnerAddress,
		)
	}
	return writer.Flush()
}

// Chains prints the configured chains.
func (a *App) Chains() error {
	chains, err := a.chains()
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Key\tName\tChain ID\tScanned\tAliases\tExplorer")
	for _, c := range chains.All() {
		scanned := "no"
		if c.Monitored {
			scanned = "yes"
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\n",
			c.Key, c.Name, c.ChainID, scanned, strings.Join(c.Aliases, ","), c.ExplorerURL(""))
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
