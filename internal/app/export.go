package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"glucose-forecast/internal/engine"
	"glucose-forecast/internal/storage"
)

// storedSeries mirrors the JSON persisted alongside each run.
type storedSeries struct {
	Series   []engine.Point `json:"series"`
	Baseline []engine.Point `json:"baseline_series"`
}

// Export renders a stored forecast run as CSV and/or PNG. Without --bucket
// the most recent run is used.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	run, err := a.findRun(ctx, store, opts.Bucket)
	if err != nil {
		return err
	}

	var series storedSeries
	if err := json.Unmarshal(run.Series, &series); err != nil {
		return fmt.Errorf("decode stored series: %w", err)
	}
	if len(series.Series) == 0 {
		return errors.New("stored run has no series data")
	}

	planned := downsamplePoints(series.Series, opts.MaxPoints)
	baseline := downsamplePoints(series.Baseline, opts.MaxPoints)
	a.Logger.Info().Time("bucket", run.Bucket).
		Int("total", len(series.Series)).Int("exported", len(planned)).
		Msg("exporting forecast run")

	if opts.CSVPath != "" {
		if err := writeForecastCSV(opts.CSVPath, run, planned, baseline); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeForecastPNG(opts.PNGPath, run, planned, baseline); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) findRun(ctx context.Context, store *storage.Store, bucket *time.Time) (storage.ForecastRun, error) {
	if bucket != nil {
		from := bucket.UTC()
		to := from.Add(a.Config.Scheduler.Interval)
		runs, err := store.ListRunsBetween(ctx, from, to)
		if err != nil {
			return storage.ForecastRun{}, err
		}
		if len(runs) == 0 {
			return storage.ForecastRun{}, fmt.Errorf("no run found at bucket %s", from.Format(time.RFC3339))
		}
		return runs[0], nil
	}

	runs, err := store.ListRecentRuns(ctx, 1)
	if err != nil {
		return storage.ForecastRun{}, err
	}
	if len(runs) == 0 {
		return storage.ForecastRun{}, errors.New("no runs stored")
	}
	return runs[0], nil
}

func downsamplePoints(points []engine.Point, max int) []engine.Point {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]engine.Point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeForecastCSV(path string, run storage.ForecastRun, planned, baseline []engine.Point) error {
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

	header := []string{"t_min", "bg", "baseline_bg"}
	if err := writer.Write(header); err != nil {
		return err
	}

	baselineAt := make(map[int]float64, len(baseline))
	for _, p := range baseline {
		baselineAt[p.TMinutes] = p.BG
	}

	for _, p := range planned {
		record := []string{
			fmt.Sprint(p.TMinutes),
			fmt.Sprintf("%.1f", p.BG),
			fmt.Sprintf("%.1f", baselineAt[p.TMinutes]),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeForecastPNG(path string, run storage.ForecastRun, planned, baseline []engine.Point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]float64, len(planned))
	y := make([]float64, len(planned))
	for i, p := range planned {
		x[i] = float64(p.TMinutes)
		y[i] = p.BG
	}

	bx := make([]float64, len(baseline))
	by := make([]float64, len(baseline))
	for i, p := range baseline {
		bx[i] = float64(p.TMinutes)
		by[i] = p.BG
	}

	bgFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name: "Minutes from run",
		},
		YAxis: chart.YAxis{
			Name:           "Glucose (mg/dL)",
			ValueFormatter: bgFormatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Forecast",
				XValues: x,
				YValues: y,
			},
			chart.ContinuousSeries{
				Name:    "Baseline (no action)",
				XValues: bx,
				YValues: by,
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

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
