package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"position-health-alerts/internal/alerting"
	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/chain"
	"position-health-alerts/internal/cooldown"
	"position-health-alerts/internal/health"
	"position-health-alerts/internal/metrics"
	"position-health-alerts/internal/provider"
	"position-health-alerts/internal/storage"
)

// ScannerOptions wires a Scanner.
type ScannerOptions struct {
	Monitors     storage.MonitorStore
	History      storage.HistoryStore
	Provider     provider.Provider
	Chains       *chain.Registry
	Tracker      *cooldown.Tracker
	Notifier     alerting.Notifier
	Locker       storage.AdvisoryLocker
	LockKey      int64
	Concurrency  int
	FetchTimeout time.Duration
	Now          func() time.Time
}

// CycleReport summarises one scan.
type CycleReport struct {
	CycleID         string
	StartedAt       time.Time
	Duration        time.Duration
	Skipped         bool
	Monitors        int
	Fetches         int
	FetchFailures   int
	Positions       int
	Alerts          int
	Suppressed      int
	PersistFailures int
	NotifyFailures  int
}

// Scanner runs scan cycles over every monitored address on every monitored chain.
type Scanner struct {
	opts   ScannerOptions
	logger zerolog.Logger
}

// NewScanner builds a Scanner.
func NewScanner(opts ScannerOptions, logger zerolog.Logger) *Scanner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{opts: opts, logger: logger.With().Str("component", "scanner").Logger()}
}

// Tick adapts RunCycle to the scheduler.
func (s *Scanner) Tick(ctx context.Context, _ time.Time) error {
	_, err := s.RunCycle(ctx)
	return err
}

type fetchJob struct {
	address string
	chain   chain.Chain
}

type jobKey struct {
	address string
	chain   string
}

type fetchResult struct {
	positions []health.Position
	err       error
}

// RunCycle performs one scan. Only a failure to list monitors fails the cycle;
// every per-address, per-chain or per-position failure is logged and skipped.
func (s *Scanner) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{CycleID: uuid.NewString(), StartedAt: s.opts.Now().UTC()}
	logger := s.logger.With().Str("cycle_id", report.CycleID).Logger()
	start := time.Now()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		metrics.ScanCycles.WithLabelValues("error").Inc()
		return report, err
	}
	if !proceed {
		report.Skipped = true
		metrics.ScanCycles.WithLabelValues("skipped").Inc()
		logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	monitors, err := s.opts.Monitors.ListAllMonitors(ctx)
	if err != nil {
		metrics.ScanCycles.WithLabelValues("error").Inc()
		return report, apperrors.Storage("monitor.scan", fmt.Errorf("list monitors: %w", err))
	}
	report.Monitors = len(monitors)
	logger.Info().Int("monitors", len(monitors)).Msg("scan cycle started")

	jobs, index := s.plan(monitors)
	results := s.fetchAll(ctx, jobs)
	report.Fetches = len(jobs)

	for i, job := range jobs {
		if err := results[i].err; err != nil {
			report.FetchFailures++
			kind := fetchErrorKind(err)
			metrics.FetchErrors.WithLabelValues(job.chain.Key, kind).Inc()
			logger.Warn().Err(err).
				Str("address", job.address).
				Str("chain", job.chain.Key).
				Str("kind", kind).
				Msg("fetch positions failed")
		}
	}

	chains := s.opts.Chains.Monitored()
	for _, m := range monitors {
		for _, c := range chains {
			res := results[index[jobKey{address: m.Address, chain: c.Key}]]
			if res.err != nil {
				continue
			}
			for _, pos := range res.positions {
				report.Positions++
				s.process(ctx, logger, &report, m, c, pos)
			}
		}
	}

	report.Duration = time.Since(start)
	metrics.ScanCycles.WithLabelValues("ok").Inc()
	metrics.ScanDuration.Observe(report.Duration.Seconds())
	metrics.LastCycle.SetToCurrentTime()

	logger.Info().
		Int("monitors", report.Monitors).
		Int("positions", report.Positions).
		Int("alerts", report.Alerts).
		Int("suppressed", report.Suppressed).
		Int("fetch_failures", report.FetchFailures).
		Dur("duration", report.Duration).
		Msg("scan cycle finished")
	return report, nil
}

// plan deduplicates addresses watched by several users so each (address,
// chain) pair is fetched once.
func (s *Scanner) plan(monitors []storage.MonitoredAddress) ([]fetchJob, map[jobKey]int) {
	chains := s.opts.Chains.Monitored()
	index := make(map[jobKey]int)
	jobs := make([]fetchJob, 0, len(monitors)*len(chains))
	for _, m := range monitors {
		for _, c := range chains {
			key := jobKey{address: m.Address, chain: c.Key}
			if _, seen := index[key]; seen {
				continue
			}
			index[key] = len(jobs)
			jobs = append(jobs, fetchJob{address: m.Address, chain: c})
		}
	}
	return jobs, index
}

func (s *Scanner) fetchAll(ctx context.Context, jobs []fetchJob) []fetchResult {
	results := make([]fetchResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
			defer cancel()
			positions, err := s.opts.Provider.FetchPositionsForAddress(fetchCtx, job.chain.Key, job.address)
			results[i] = fetchResult{positions: positions, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scanner) process(ctx context.Context, logger zerolog.Logger, report *CycleReport, m storage.MonitoredAddress, c chain.Chain, pos health.Position) {
	metrics.PositionsEvaluated.WithLabelValues(c.Key).Inc()

	posLog := logger.With().
		Int64("user_id", m.UserID).
		Str("chain", c.Key).
		Int64("position_id", pos.PositionID).
		Logger()

	if pos.UnpricedDebt {
		posLog.Warn().Float64("borrow_usd", pos.BorrowUSD).Msg("position has debt but zero-valued collateral")
	}

	severity := health.Classify(pos.HealthFactor, m.AlertThreshold, m.CriticalThreshold)
	if severity == health.SeverityNone {
		return
	}

	now := s.opts.Now()
	key := cooldown.Key{UserID: m.UserID, Chain: c.Key, PositionID: pos.PositionID}
	prev, ok := s.opts.Tracker.Allow(key, now)
	if !ok {
		report.Suppressed++
		metrics.Alerts.WithLabelValues(string(severity), "suppressed").Inc()
		posLog.Debug().Time("last_alert", prev).Msg("alert suppressed by cooldown")
		return
	}

	alert := storage.AlertRecord{
		UserID:       m.UserID,
		PositionID:   pos.PositionID,
		Chain:        c.Key,
		HealthFactor: pos.HealthFactor,
		AlertType:    string(severity),
		Message:      alerting.Summary(pos),
		CreatedAt:    now.UTC(),
	}
	snapshot := storage.PositionSnapshot{
		PositionID:   pos.PositionID,
		Chain:        c.Key,
		OwnerAddress: pos.Owner,
		HealthFactor: pos.HealthFactor,
		Ratio:        pos.Ratio,
		SupplyUSD:    pos.SupplyUSD,
		BorrowUSD:    pos.BorrowUSD,
		CreatedAt:    now.UTC(),
	}
	if _, err := s.opts.History.RecordAlert(ctx, alert, snapshot); err != nil {
		s.opts.Tracker.Restore(key, prev)
		report.PersistFailures++
		metrics.Alerts.WithLabelValues(string(severity), "persist_failed").Inc()
		posLog.Error().Err(err).Msg("failed to persist alert record")
		return
	}
	report.Alerts++

	note := alerting.Notification{
		UserID:    m.UserID,
		Severity:  severity,
		Position:  pos,
		ChainName: c.Name,
		Explorer:  c.ExplorerURL(pos.Owner),
	}
	if err := s.opts.Notifier.Notify(ctx, note); err != nil {
		report.NotifyFailures++
		metrics.Alerts.WithLabelValues(string(severity), "notify_failed").Inc()
		posLog.Error().Err(err).Msg("failed to dispatch alert")
		return
	}
	metrics.Alerts.WithLabelValues(string(severity), "sent").Inc()
	posLog.Info().Str("severity", string(severity)).Float64("health_factor", pos.HealthFactor).Msg("alert sent")
}

func (s *Scanner) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, apperrors.Storage("monitor.scan", fmt.Errorf("acquire advisory lock: %w", err))
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func fetchErrorKind(err error) string {
	switch {
	case errors.Is(err, provider.ErrNotFound):
		return "not_found"
	case errors.Is(err, provider.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
