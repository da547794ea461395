package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"position-health-alerts/internal/health"
	"position-health-alerts/internal/storage"
)

// Export renders a position's recorded snapshots as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PositionID <= 0 {
		return errors.New("position id must be positive")
	}

	chains, err := a.chains()
	if err != nil {
		return err
	}
	c, ok := chains.Lookup(opts.Chain)
	if !ok {
		return fmt.Errorf("unknown chain %q", opts.Chain)
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	snaps, err := st.history.PositionHistory(ctx, c.Key, opts.PositionID, 0)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Str("chain", c.Key).Int64("position_id", opts.PositionID).Msg("no snapshots found for export")
		return nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		title := fmt.Sprintf("Position #%d on %s", opts.PositionID, c.Name)
		if err := writeSnapshotsPNG(opts.PNGPath, title, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snaps []storage.PositionSnapshot, max int) []storage.PositionSnapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]storage.PositionSnapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []storage.PositionSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "chain", "position_id", "owner", "health_factor", "ratio_pct", "supply_usd", "borrow_usd"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		record := []string{
			snap.CreatedAt.UTC().Format(time.RFC3339),
			snap.Chain,
			strconv.FormatInt(snap.PositionID, 10),
			snap.OwnerAddress,
			strconv.FormatFloat(snap.HealthFactor, 'f', -1, 64),
			amount(snap.Ratio, 4),
			amount(snap.SupplyUSD, 2),
			amount(snap.BorrowUSD, 2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, title string, snaps []storage.PositionSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(snaps))
	hf := make([]float64, 0, len(snaps))
	ratio := make([]float64, 0, len(snaps))
	for _, snap := range snaps {
		// unbounded values cannot be plotted
		if !health.IsFinite(snap.HealthFactor) {
			continue
		}
		x = append(x, snap.CreatedAt)
		hf = append(hf, snap.HealthFactor)
		ratio = append(ratio, snap.Ratio)
	}
	if len(x) < 2 {
		return errors.New("need at least two finite snapshots to draw a chart")
	}

	hfFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Health factor",
			ValueFormatter: hfFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Ratio (%)",
			ValueFormatter: hfFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Health factor",
				XValues: x,
				YValues: hf,
			},
			chart.TimeSeries{
				Name:    "Ratio %",
				XValues: x,
				YValues: ratio,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
