package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/roman-kulish/kiwi-spectrum/internal/render"
	"github.com/roman-kulish/kiwi-spectrum/internal/spectra"
	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

// ErrUnreadable is returned when the spectra log cannot be read.
var ErrUnreadable = errors.New("cannot read spectra log")

// Run reads the spectra log within the configured window and renders the requested plots.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	log := spectra.NewLog(config.LogPath, spectra.WithLogger(logger))

	if config.Clip {
		kept, err := log.Clip(config.Window())
		if err != nil {
			return fmt.Errorf("clipping %s: %w", config.LogPath, err)
		}
		logger.Info("clipped spectra log", slog.String("path", config.LogPath), slog.Int("kept", kept))
	}

	data, err := log.Read(config.Window())
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrUnreadable, config.LogPath, err)
	}

	logger.Info("read spectra log",
		slog.String("band", data.Band.String()),
		slog.Int("rows", len(data.Spectra)),
		slog.Int("skipped", data.Skipped),
		slog.String("window", config.Window().String()),
	)
	if len(data.Spectra) == 0 {
		logger.Warn("no spectra within the window, nothing to plot")
		return nil
	}

	power := rxPower(data.Spectra)
	logSummary(power, logger)

	if err = ctx.Err(); err != nil {
		return err
	}

	if config.RXPower != "" {
		if err = plotRXPower(config, data, power, logger); err != nil {
			return fmt.Errorf("plotting RX power: %w", err)
		}
	}
	if config.Spectrograph != "" {
		if err = plotSpectrograph(config, data, logger); err != nil {
			return fmt.Errorf("plotting spectrograph: %w", err)
		}
	}

	return nil
}

// rxPower returns the total power of each row, NaN for sentinel rows
func rxPower(m spectrum.SampleMatrix) []float64 {
	power := make([]float64, len(m))
	for i, row := range m {
		if spectrum.IsSentinelRow(row) {
			power[i] = math.NaN()
			continue
		}
		power[i] = spectrum.SumPower(row)
	}
	return power
}

func logSummary(power []float64, logger *slog.Logger) {
	known := make(stats.Float64Data, 0, len(power))
	for _, v := range power {
		if !math.IsNaN(v) {
			known = append(known, v)
		}
	}
	if len(known) == 0 {
		logger.Warn("all rows in the window are sentinel rows")
		return
	}

	lo, _ := known.Min()
	hi, _ := known.Max()
	mean, _ := known.Mean()
	median, _ := known.Median()

	logger.Info("RX power summary",
		slog.Int("rows", len(known)),
		slog.Int("gaps", len(power)-len(known)),
		slog.String("min", fmt.Sprintf("%.1f dBm", lo)),
		slog.String("mean", fmt.Sprintf("%.1f dBm", mean)),
		slog.String("median", fmt.Sprintf("%.1f dBm", median)),
		slog.String("max", fmt.Sprintf("%.1f dBm", hi)),
	)
}

func plotRXPower(config *Config, data *spectra.Data, power []float64, logger *slog.Logger) error {
	plot := render.LinePlot{
		Title: config.Title + " RX Power",
		Y:     render.Axis{Label: "RX Power Estimate (dBm)"},
		Series: []render.Series{{
			Label:  "RX Power",
			Color:  render.MustParseColor("#0000ff"),
			Times:  data.Times,
			Values: power,
		}},
		Watermark: fmt.Sprintf("%s - %s UTC", data.Band, time.Now().UTC().Format("2006-01-02 15:04")),
	}

	img, err := plot.Render()
	if err != nil {
		return err
	}
	if err = render.Save(config.RXPower, img); err != nil {
		return err
	}

	logger.Info("saved RX power plot", slog.String("destination", config.RXPower))
	return nil
}

func plotSpectrograph(config *Config, data *spectra.Data, logger *slog.Logger) error {
	bounds := render.PowerBounds{Min: config.CmapMin, Max: config.CmapMax}
	if config.CmapAuto {
		bounds = render.AutoBounds(data.Spectra, bounds)
		logger.Debug("derived colormap range",
			slog.String("min", fmt.Sprintf("%.1f dB", bounds.Min)),
			slog.String("max", fmt.Sprintf("%.1f dB", bounds.Max)))
	}

	spec := render.Spectrogram{
		Title:   config.Title + " Spectrograph",
		Times:   data.Times,
		Spectra: data.Spectra,
		Band:    data.Band,
		Bounds:  bounds,
		Theme:   config.Theme,
	}

	img, err := spec.Render()
	if err != nil {
		return err
	}
	if err = render.Save(config.Spectrograph, img); err != nil {
		return err
	}

	logger.Info("saved spectrograph",
		slog.String("destination", config.Spectrograph),
		slog.String("theme", string(config.Theme)),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()),
	)
	return nil
}
