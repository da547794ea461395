package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"position-health-alerts/internal/monitor"
)

// AddMonitor registers an address for the periodic scan.
func (a *App) AddMonitor(ctx context.Context, req monitor.AddRequest) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	rec, err := a.newRegistry(st).Add(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "monitoring %s for user %d (alert < %.2f, critical < %.2f)\n",
		rec.Address, rec.UserID, rec.AlertThreshold, rec.CriticalThreshold)
	return nil
}

// RemoveMonitor stops monitoring an address.
func (a *App) RemoveMonitor(ctx context.Context, userID int64, address string) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if err := a.newRegistry(st).Remove(ctx, userID, address); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "stopped monitoring %s for user %d\n", address, userID)
	return nil
}

// ListMonitors prints a user's monitored addresses.
func (a *App) ListMonitors(ctx context.Context, userID int64) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	monitors, err := a.newRegistry(st).List(ctx, userID)
	if err != nil {
		return err
	}
	if len(monitors) == 0 {
		fmt.Fprintln(a.Out, "no monitored addresses")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Address\tAlert\tCritical\tSince (UTC)")
	for _, m := range monitors {
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%s\n",
			m.Address, m.AlertThreshold, m.CriticalThreshold, m.CreatedAt.UTC().Format(time.RFC3339))
	}
	return writer.Flush()
}
