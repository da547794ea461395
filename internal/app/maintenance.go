package app

import (
	"context"
	"errors"
	"fmt"

	"position-health-alerts/internal/alerting"
	"position-health-alerts/internal/cooldown"
	"position-health-alerts/internal/scheduler"
	"position-health-alerts/internal/storage"
)

// ScanOptions configure a one-off scan.
type ScanOptions struct {
	// DryRun logs alerts instead of delivering them.
	DryRun bool
}

// ScanOnce runs a single scan cycle and prints its summary. Cooldowns start
// empty, so every unhealthy position alerts.
func (a *App) ScanOnce(ctx context.Context, opts ScanOptions) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	chains, err := a.chains()
	if err != nil {
		return err
	}
	resolver := a.newProvider(chains)
	defer resolver.Close()

	var notifier alerting.Notifier = alerting.NewLogNotifier(a.Logger)
	if !opts.DryRun {
		notifier = a.newNotifier()
	}
	scanner := a.newScanner(st, resolver, chains, cooldown.New(a.Config.Monitor.Cooldown), notifier)

	report, err := scanner.RunCycle(ctx)
	if err != nil {
		return err
	}
	if report.Skipped {
		fmt.Fprintln(a.Out, "scan skipped: another instance holds the scan lock")
		return nil
	}
	fmt.Fprintf(a.Out, "cycle %s: %d monitors, %d fetches (%d failed), %d positions, %d alerts, %d suppressed\n",
		report.CycleID, report.Monitors, report.Fetches, report.FetchFailures, report.Positions, report.Alerts, report.Suppressed)
	return nil
}

// Cleanup purges query ledger rows past the retention period.
func (a *App) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = a.Config.Quota.RetentionDays
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	ledger := a.newLedger(st)
	var deleted int64
	job := scheduler.JobFunc{
		JobName: "query-ledger-cleanup",
		Fn: func(ctx context.Context) error {
			n, err := ledger.Cleanup(ctx, retentionDays)
			deleted = n
			return err
		},
	}
	if err := scheduler.NewMaintenance(a.Logger).RunNow(ctx, job); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "deleted %d query records older than %d days\n", deleted, retentionDays)
	return nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool, a.Logger); err != nil {
		return err
	}
	a.Logger.Info().Msg("migrations applied")
	return nil
}
