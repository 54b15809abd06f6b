package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/roman-kulish/kiwi-spectrum/internal/render"
	"github.com/roman-kulish/kiwi-spectrum/internal/storage"
)

const (
	graphWidth  = 500
	graphHeight = 300

	lowerLimit = -120.0
	upperLimit = -40.0
)

var (
	p95Color    = render.MustParseColor("#0000ff")
	medianColor = render.MustParseColor("#00ff00")
	snrColor    = render.MustParseColor("#ff0000")

	// snr*2-120 on the left axis
	snrAxis = render.RightAxis{Label: "SNR (dB)", Scale: 0.5, Shift: 60}
)

// Schedule is the period covered by one graph.
type Schedule string

const (
	Daily   Schedule = "Daily"
	Weekly  Schedule = "Weekly"
	Monthly Schedule = "Monthly"
)

// Schedules lists the graphs rendered on every run.
var Schedules = []Schedule{Daily, Weekly, Monthly}

// Period returns the time covered by the schedule.
func (s Schedule) Period() time.Duration {
	switch s {
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Run renders the daily, weekly and monthly graphs of the configured store.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.StorePath); err != nil {
		return fmt.Errorf("round-robin store '%s' does not exist: %w", config.StorePath, err)
	}

	store := storage.NewSqliteStore(config.StorePath, storage.WithLogger(logger))
	defer closeStore(store, logger)

	return graph(ctx, store, config, time.Now().UTC(), logger)
}

func closeStore(store interface{ Close() error }, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn(fmt.Sprintf("closing round-robin store: %s", err.Error()))
	}
}

func graph(ctx context.Context, store storage.Reader, config *Config, now time.Time, logger *slog.Logger) error {
	schema, err := store.Schema(ctx)
	if err != nil {
		return fmt.Errorf("reading store schema: %w", err)
	}
	if schema.Step != config.Step {
		logger.Warn("store step differs from the configured step",
			slog.String("store", schema.Step.String()),
			slog.String("configured", config.Step.String()))
	}

	last, err := store.Last(ctx)
	if err != nil {
		return fmt.Errorf("reading last update: %w", err)
	}
	logger.Info("last round-robin update", slog.String("time", last.Format(time.DateTime)))

	for _, sched := range Schedules {
		path := filepath.Join(config.OutputDir, fmt.Sprintf("%s-%s.png", config.Name(), sched))
		logger.Info("preparing graph", slog.String("schedule", string(sched)), slog.String("destination", path))

		plot, err := newPlot(ctx, store, schema, config, sched, now)
		if err != nil {
			return fmt.Errorf("preparing %s graph: %w", sched, err)
		}

		img, err := plot.Render()
		if err != nil {
			return fmt.Errorf("rendering %s graph: %w", sched, err)
		}
		if err = render.Save(path, img); err != nil {
			return err
		}
	}

	logger.Info("all done")
	return nil
}

func newPlot(ctx context.Context, store storage.Reader, schema *storage.Schema, config *Config, sched Schedule, now time.Time) (*render.LinePlot, error) {
	start := now.Add(-sched.Period())

	avg, err := store.Fetch(ctx, storage.Average, start, now)
	if err != nil {
		return nil, err
	}

	var maxS, minS *storage.Series
	if sched != Daily {
		if maxS, err = store.Fetch(ctx, storage.Max, start, now); err != nil {
			return nil, err
		}
		if minS, err = store.Fetch(ctx, storage.Min, start, now); err != nil {
			return nil, err
		}
	}

	times := make([]time.Time, avg.Len())
	for i := range times {
		times[i] = avg.Time(i)
	}

	band := schema.Band
	return &render.LinePlot{
		Title: fmt.Sprintf("%s, %s from: %d - %d kHz, %.2f kHz RBW",
			config.Title, sched, int(band.LowerKHz), int(band.UpperKHz), band.RBW()),
		Width:  graphWidth,
		Height: graphHeight,
		Start:  start,
		End:    now,
		Y:      render.Axis{Label: "Signal levels (dBm/bin)", Min: lowerLimit, Max: upperLimit},
		Right:  &snrAxis,
		Series: []render.Series{
			{Label: "95th Percentile", Color: p95Color, Times: times, Values: avg.Column("p95")},
			{Label: "Median level", Color: medianColor, Times: times, Values: avg.Column("median")},
			{Label: "SNR", Color: snrColor, Width: 2, Times: times, Values: avg.Column("snr"), RightAxis: true},
		},
		Footer:    footer(sched, avg, maxS, minS),
		Watermark: fmt.Sprintf("%s - %s", config.Watermark, now.Format("2006-01-02 15:04")),
	}, nil
}

// footer summarises the SNR: the last value for daily graphs, average, maximum and
// minimum otherwise
func footer(sched Schedule, avg, maxS, minS *storage.Series) []string {
	snr := column(avg, "snr")
	if sched == Daily {
		last := math.NaN()
		if len(snr) > 0 {
			last = snr[len(snr)-1]
		}
		return []string{fmt.Sprintf("Last SNR: %s", formatDB(last))}
	}

	mean, err := snr.Mean()
	if err != nil {
		mean = math.NaN()
	}
	hi, err := column(maxS, "snr").Max()
	if err != nil {
		hi = math.NaN()
	}
	lo, err := column(minS, "snr").Min()
	if err != nil {
		lo = math.NaN()
	}

	return []string{fmt.Sprintf("Average SNR: %s  Max SNR: %s  Min SNR: %s", formatDB(mean), formatDB(hi), formatDB(lo))}
}

// column returns the known values of the named data source
func column(s *storage.Series, name string) stats.Float64Data {
	if s == nil {
		return nil
	}

	var out stats.Float64Data
	for _, v := range s.Column(name) {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func formatDB(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%2.1f dB", v)
}
