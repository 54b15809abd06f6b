package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectra"
	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
	"github.com/roman-kulish/kiwi-spectrum/internal/storage"
)

var (
	// ErrStorage wraps I/O failures of a single target.
	ErrStorage = errors.New("storage error")

	// ErrSchemaMismatch wraps a refused write caused by a band mismatch of a single target.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrNoTargets is returned when a Sink has nothing to write to.
	ErrNoTargets = errors.New("no persistence targets configured")
)

// Outcome summarises the writes of one record across all targets.
type Outcome int

const (
	OutcomeSuccess Outcome = iota // Every target was written
	OutcomePartial                // Some targets were written, some failed
	OutcomeFailed                 // No target was written
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SpectraLog is a flat log of full-resolution spectra.
type SpectraLog interface {
	Path() string
	Append(band spectrum.FrequencyBand, ts time.Time, row spectrum.PowerRow) error
	AppendSentinel(band spectrum.FrequencyBand, ts time.Time) error
}

var _ SpectraLog = (*spectra.Log)(nil)

// TargetResult is the result of writing one record to one target.
type TargetResult struct {
	Target string
	Err    error
}

// Report lists the result of every target a record was written to.
type Report struct {
	Outcome Outcome
	Results []TargetResult
}

// Err joins the errors of all failed targets.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Written returns the names of the targets that were written.
func (r *Report) Written() []string {
	var names []string
	for _, res := range r.Results {
		if res.Err == nil {
			names = append(names, res.Target)
		}
	}
	return names
}

// WithLogger sets the logger for the sink
func WithLogger(logger *slog.Logger) func(s *Sink) {
	return func(s *Sink) {
		s.logger = logger
	}
}

// WithAverageLog writes the average spectrum of every record to log.
func WithAverageLog(log SpectraLog) func(s *Sink) {
	return func(s *Sink) {
		s.average = log
	}
}

// WithPeakLog writes the peak spectrum of every record to log.
func WithPeakLog(log SpectraLog) func(s *Sink) {
	return func(s *Sink) {
		s.peak = log
	}
}

// WithRoundRobin writes median, p95 and SNR of every record to store, created on first
// use with storage.SNRSchema for the given step.
func WithRoundRobin(store storage.Store, step time.Duration) func(s *Sink) {
	return func(s *Sink) {
		s.store = store
		s.step = step
	}
}

// Sink writes reduced records to the configured spectra logs and round-robin store. Each
// target is written independently: a failed target does not prevent the others.
type Sink struct {
	average SpectraLog
	peak    SpectraLog
	store   storage.Store
	step    time.Duration

	logger *slog.Logger
}

// NewSink creates a new Sink with a discard logger
func NewSink(options ...func(s *Sink)) *Sink {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Sink{logger: logger}
	for _, option := range options {
		option(&s)
	}

	return &s
}

// Persist writes rec to every target. Sentinel records are written as rows of sentinel
// values to the logs and as an unknown update to the round-robin store, so the gap stays
// visible. The returned error joins the failures of all targets and is nil only when the
// outcome is OutcomeSuccess.
func (s *Sink) Persist(ctx context.Context, rec *spectrum.ReducedRecord) (*Report, error) {
	if s.average == nil && s.peak == nil && s.store == nil {
		return &Report{Outcome: OutcomeFailed}, ErrNoTargets
	}

	var report Report

	if s.average != nil {
		report.Results = append(report.Results, s.appendLog(s.average, rec, rec.AverageSpectrum))
	}
	if s.peak != nil {
		report.Results = append(report.Results, s.appendLog(s.peak, rec, rec.PeakSpectrum))
	}
	if s.store != nil {
		report.Results = append(report.Results, s.update(ctx, rec))
	}

	written := len(report.Written())
	switch {
	case written == len(report.Results):
		report.Outcome = OutcomeSuccess
	case written == 0:
		report.Outcome = OutcomeFailed
	default:
		report.Outcome = OutcomePartial
	}

	for _, res := range report.Results {
		if res.Err != nil {
			s.logger.Error(res.Err.Error(), slog.String("target", res.Target))
		}
	}

	return &report, report.Err()
}

func (s *Sink) appendLog(log SpectraLog, rec *spectrum.ReducedRecord, row spectrum.PowerRow) TargetResult {
	var err error
	if rec.IsSentinel {
		err = log.AppendSentinel(rec.Band, rec.Timestamp)
	} else {
		err = log.Append(rec.Band, rec.Timestamp, row)
	}

	if err == nil {
		s.logger.Debug("spectra row appended", slog.String("target", log.Path()), slog.Bool("sentinel", rec.IsSentinel))
	}
	return TargetResult{Target: log.Path(), Err: classify(log.Path(), err)}
}

func (s *Sink) update(ctx context.Context, rec *spectrum.ReducedRecord) TargetResult {
	const target = "round-robin"

	created, err := s.store.Create(ctx, storage.SNRSchema(s.step, rec.Band))
	if err != nil {
		return TargetResult{Target: target, Err: classify(target, err)}
	}
	if created {
		s.logger.Info("created round-robin store", slog.String("band", rec.Band.String()))
	}

	values := []float64{rec.MedianPower, rec.P95Power, rec.SNREstimate}
	if rec.IsSentinel {
		values = []float64{math.NaN(), math.NaN(), math.NaN()}
	}

	record := storage.FormatUpdateAt(rec.Timestamp, values[0], values[1], values[2])
	if err = s.store.UpdateRecord(ctx, record); err != nil {
		return TargetResult{Target: target, Err: classify(target, err)}
	}

	s.logger.Debug("round-robin updated", slog.String("record", record))
	return TargetResult{Target: target}
}

func classify(target string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, spectra.ErrSchemaMismatch), errors.Is(err, storage.ErrSchemaMismatch):
		return fmt.Errorf("%w: %s: %w", ErrSchemaMismatch, target, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStorage, target, err)
	}
}
