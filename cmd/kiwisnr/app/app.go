package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/kiwi-spectrum/internal/kiwi"
	"github.com/roman-kulish/kiwi-spectrum/internal/persist"
	"github.com/roman-kulish/kiwi-spectrum/internal/spectra"
	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
	"github.com/roman-kulish/kiwi-spectrum/internal/storage"
)

// adcOverloadDBm is the total power at which the receiver ADC overloads
const adcOverloadDBm = -17.0

// ErrIncomplete is returned when a run did not collect enough samples. A sentinel
// record has been persisted in its place.
var ErrIncomplete = errors.New("did not gather all required samples")

// Run performs one sampling exchange and persists its outcome.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	return run(ctx, config, &kiwi.WebsocketDialer{
		ConnectTimeout:   config.ConnectTimeout,
		HandshakeTimeout: config.ConnectTimeout,
	}, logger)
}

func run(ctx context.Context, config *Config, dialer kiwi.Dialer, logger *slog.Logger) error {
	logger = logger.With(slog.String("run", uuid.NewString()))

	if config.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.MaxDuration)
		defer cancel()
	}

	band := config.Server.Band.Band()
	logger.Info("sampling configuration",
		slog.String("server", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)),
		slog.Int("zoom", config.Server.Band.Zoom),
		slog.String("lower", fmt.Sprintf("%.2f kHz", band.LowerKHz)),
		slog.String("upper", fmt.Sprintf("%.2f kHz", band.UpperKHz)),
		slog.Int("bins", band.Bins),
		slog.String("rbw", fmt.Sprintf("%.3f kHz", band.RBW())),
		slog.String("store", config.StorePath()),
	)

	store := storage.NewSqliteStore(config.StorePath(), storage.WithLogger(logger))
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn(fmt.Sprintf("closing round-robin store: %s", err.Error()))
		}
	}()

	sink := createSink(config, store, logger)
	session := kiwi.NewSession(dialer, config.Server, kiwi.WithLogger(logger))

	res, err := session.Run(ctx, config.Length)
	if err != nil {
		return fmt.Errorf("sampling failed: %w", err)
	}

	logger.Info("collection finished",
		slog.String("state", res.State.String()),
		slog.Int("collected", res.Collected),
		slog.Int("target", res.Target),
		slog.Int("skipped", res.Skipped),
		slog.Int("chatter", res.Chatter),
		slog.String("elapsed", res.Finished.Sub(res.Started).String()),
	)

	rec, incomplete, err := reduce(res, band, config.RequiredSamples(), logger)
	if err != nil {
		return err
	}

	// persistence must complete even when the run deadline has passed
	report, pErr := sink.Persist(context.WithoutCancel(ctx), rec)
	if report != nil {
		logger.Info("record persisted",
			slog.String("outcome", report.Outcome.String()),
			slog.Any("targets", report.Written()),
			slog.Bool("sentinel", rec.IsSentinel),
		)
	}
	if pErr != nil {
		pErr = fmt.Errorf("persisting record: %w", pErr)
	} else {
		logStoreRange(ctx, store, logger)
	}

	if incomplete {
		return errors.Join(fmt.Errorf("%w: %d of %d: %w", ErrIncomplete, res.Collected, res.Target, res.Err), pErr)
	}
	return pErr
}

// reduce turns a collection into the record to persist. Partial collections below
// required rows become a sentinel record.
func reduce(res *kiwi.Result, band spectrum.FrequencyBand, required int, logger *slog.Logger) (*spectrum.ReducedRecord, bool, error) {
	if res.State == kiwi.StatePartialFailure && res.Collected < required {
		logger.Warn("abandoning incomplete collection",
			slog.Int("collected", res.Collected),
			slog.Int("required", required),
			slog.Any("reason", res.Err),
		)
		return spectrum.SentinelRecord(band, res.Finished), true, nil
	}

	rec, err := spectrum.Reduce(res.Matrix, band, res.Finished)
	if err != nil {
		return nil, false, fmt.Errorf("reducing samples: %w", err)
	}

	logger.Info(fmt.Sprintf("power sum: %.3f dBm (ADC overload at %.0f dBm)", rec.TotalPowerEstimate, adcOverloadDBm))
	logger.Info("average SNR computation",
		slog.Int("rows", rec.Rows),
		slog.String("median", fmt.Sprintf("%.1f dB", rec.MedianPower)),
		slog.String("p95", fmt.Sprintf("%.1f dB", rec.P95Power)),
		slog.String("snr", fmt.Sprintf("%.2f dB", rec.SNREstimate)),
		slog.String("rbw", humanize.SIWithDigits(band.RBW()*1e3, 2, "Hz")),
	)

	return rec, false, nil
}

func logStoreRange(ctx context.Context, store *storage.SqliteStore, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)

	last, err := store.Last(ctx)
	if err != nil {
		logger.Warn(fmt.Sprintf("reading last update: %s", err.Error()))
		return
	}
	first, err := store.First(ctx, 0)
	if err != nil {
		logger.Debug(fmt.Sprintf("reading first row: %s", err.Error()))
	}

	logger.Info("round-robin store updated",
		slog.String("last", last.Format(time.DateTime)),
		slog.String("first", first.Format(time.DateTime)),
	)
}

func createSink(config *Config, store storage.Store, logger *slog.Logger) *persist.Sink {
	options := []func(*persist.Sink){
		persist.WithLogger(logger),
		persist.WithRoundRobin(store, config.Step),
	}
	if config.Spectra != "" {
		options = append(options, persist.WithAverageLog(spectra.NewLog(config.Spectra, spectra.WithLogger(logger))))
	}
	if peak := config.PeakSpectra(); peak != "" {
		options = append(options, persist.WithPeakLog(spectra.NewLog(peak, spectra.WithLogger(logger))))
	}
	return persist.NewSink(options...)
}
