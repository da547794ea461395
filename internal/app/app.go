package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"position-health-alerts/internal/alerting"
	"position-health-alerts/internal/chain"
	"position-health-alerts/internal/config"
	"position-health-alerts/internal/cooldown"
	"position-health-alerts/internal/metrics"
	"position-health-alerts/internal/monitor"
	"position-health-alerts/internal/provider"
	"position-health-alerts/internal/quota"
	"position-health-alerts/internal/scheduler"
	"position-health-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// memory backs every command when no DSN is configured.
	memory *storage.MemoryStore
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// stores groups the storage roles; with Postgres they are all the same Store.
type stores struct {
	monitors storage.MonitorStore
	history  storage.HistoryStore
	queries  storage.QueryStore
	locker   storage.AdvisoryLocker
	close    func()
}

func (a *App) openStore(ctx context.Context) (*stores, error) {
	if a.Config.Database.DSN == "" {
		if a.memory == nil {
			a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, nothing survives restart")
			a.memory = storage.NewMemoryStore()
		}
		return &stores{
			monitors: a.memory,
			history:  a.memory,
			queries:  a.memory,
			close:    func() {},
		}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(ctx, pool, a.Logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	store := storage.NewStore(pool)
	return &stores{
		monitors: store,
		history:  store,
		queries:  store,
		locker:   store,
		close:    store.Close,
	}, nil
}

func (a *App) chains() (*chain.Registry, error) {
	return chain.NewRegistry(a.Config.ChainList())
}

func (a *App) newProvider(chains *chain.Registry) *provider.VaultResolver {
	return provider.NewVaultResolver(chains, provider.Options{
		RequestsPerSecond: a.Config.Provider.RequestsPerSecond,
		Burst:             a.Config.Provider.Burst,
		RequestTimeout:    a.Config.Provider.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	a.Logger.Info().Msg("telegram alerting disabled; alerts are written to the log")
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newLedger(st *stores) *quota.Ledger {
	return quota.NewLedger(st.queries, a.Config.Quota.QueriesPerDay, a.Logger)
}

func (a *App) newScanner(st *stores, p provider.Provider, chains *chain.Registry, tracker *cooldown.Tracker, notifier alerting.Notifier) *monitor.Scanner {
	return monitor.NewScanner(monitor.ScannerOptions{
		Monitors:     st.monitors,
		History:      st.history,
		Provider:     p,
		Chains:       chains,
		Tracker:      tracker,
		Notifier:     notifier,
		Locker:       st.locker,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
		Concurrency:  a.Config.Monitor.Concurrency,
		FetchTimeout: a.Config.Monitor.FetchTimeout,
	}, a.Logger)
}

func (a *App) newRegistry(st *stores) *monitor.Registry {
	return monitor.NewRegistry(st.monitors, monitor.Thresholds{
		Alert:    a.Config.Monitor.DefaultAlertThreshold,
		Critical: a.Config.Monitor.DefaultCriticalThreshold,
	}, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	tracker := cooldown.New(a.Config.Monitor.Cooldown)
	scanner := a.newScanner(st, resolver, chains, tracker, a.newNotifier())
	ledger := a.newLedger(st)

	maint := scheduler.NewMaintenance(a.Logger)
	if err := a.registerMaintenance(maint, ledger, tracker); err != nil {
		return err
	}
	maint.Start()
	defer maint.Stop()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Monitor.ScanInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Metrics.Enabled {
		server := metrics.NewServer(a.Config.Metrics.Listen, a.Logger)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	g.Go(func() error {
		return sched.Run(gctx, scanner.Tick)
	})

	a.Logger.Info().
		Dur("interval", a.Config.Monitor.ScanInterval).
		Dur("cooldown", a.Config.Monitor.Cooldown).
		Int("chains", len(chains.Monitored())).
		Msg("starting monitoring service")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) registerMaintenance(maint *scheduler.Maintenance, ledger *quota.Ledger, tracker *cooldown.Tracker) error {
	cleanup := scheduler.JobFunc{
		JobName: "query-ledger-cleanup",
		Fn: func(ctx context.Context) error {
			_, err := ledger.Cleanup(ctx, a.Config.Quota.RetentionDays)
			return err
		},
	}
	if err := maint.AddJob(a.Config.Quota.CleanupSchedule, cleanup); err != nil {
		return fmt.Errorf("schedule %s: %w", cleanup.JobName, err)
	}

	prune := a.cooldownPruneJob(tracker, time.Now)
	if err := maint.AddJob("@hourly", prune); err != nil {
		return fmt.Errorf("schedule %s: %w", prune.JobName, err)
	}
	return nil
}

func (a *App) cooldownPruneJob(tracker *cooldown.Tracker, now func() time.Time) scheduler.JobFunc {
	return scheduler.JobFunc{
		JobName: "cooldown-prune",
		Fn: func(context.Context) error {
			n := tracker.Prune(now())
			a.Logger.Debug().Int("pruned", n).Int("tracked", tracker.Len()).Msg("cooldown entries pruned")
			return nil
		},
	}
}

// ExportOptions hold parameters for exporting a position's snapshot history.
type ExportOptions struct {
	Chain      string
	PositionID int64
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	UserID int64
	Since  time.Duration
	Limit  int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Chain      string
	PositionID int64
	Limit      int
}
