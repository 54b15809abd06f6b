package persist

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectra"
	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
	"github.com/roman-kulish/kiwi-spectrum/internal/storage"
)

var testBand = spectrum.FrequencyBand{LowerKHz: 0, UpperKHz: 30000, Bins: 8}

type fakeStore struct {
	createErr error
	updateErr error

	updates [][]float64
	records []string
	schemas []*storage.Schema
}

func (f *fakeStore) Create(_ context.Context, schema *storage.Schema) (bool, error) {
	f.schemas = append(f.schemas, schema)
	return len(f.schemas) == 1, f.createErr
}

func (f *fakeStore) Update(_ context.Context, _ time.Time, values ...float64) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, values)
	return nil
}

func (f *fakeStore) UpdateRecord(ctx context.Context, record string) error {
	f.records = append(f.records, record)
	ts, values, err := storage.ParseUpdate(record, time.Now())
	if err != nil {
		return err
	}
	return f.Update(ctx, ts, values...)
}

func (f *fakeStore) Last(context.Context) (time.Time, error) { return time.Time{}, nil }
func (f *fakeStore) Close() error                            { return nil }

func testRecord(t *testing.T) *spectrum.ReducedRecord {
	t.Helper()

	m := spectrum.SampleMatrix{
		{-100, -100, -90, -95, -100, -60, -100, -100},
		{-100, -98, -92, -95, -100, -50, -100, -100},
	}
	rec, err := spectrum.Reduce(m, testBand, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Failed to reduce: %v", err)
	}
	return rec
}

func TestSink_PersistAllTargets(t *testing.T) {
	dir := t.TempDir()
	avg := spectra.NewLog(filepath.Join(dir, "spectra.log"))
	peak := spectra.NewLog(spectra.PeakPath(avg.Path()))

	store := storage.NewSqliteStore(filepath.Join(dir, "kiwi_0_30000.rrd"),
		storage.WithClock(func() time.Time { return time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC) }))
	defer store.Close()

	sink := NewSink(WithAverageLog(avg), WithPeakLog(peak), WithRoundRobin(store, 5*time.Minute))

	rec := testRecord(t)
	report, err := sink.Persist(context.Background(), rec)
	if err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}
	if report.Outcome != OutcomeSuccess || len(report.Written()) != 3 {
		t.Errorf("Expected success on 3 targets, got %s on %v", report.Outcome, report.Written())
	}

	avgData, err := avg.Read(0)
	if err != nil {
		t.Fatalf("Failed to read average log: %v", err)
	}
	peakData, err := peak.Read(0)
	if err != nil {
		t.Fatalf("Failed to read peak log: %v", err)
	}
	if avgData.Spectra[0][1] != -99 || peakData.Spectra[0][1] != -98 || peakData.Spectra[0][5] != -50 {
		t.Errorf("Unexpected spectra: avg %v, peak %v", avgData.Spectra[0], peakData.Spectra[0])
	}

	last, err := store.Last(context.Background())
	if err != nil || !last.Equal(rec.Timestamp) {
		t.Errorf("Expected round-robin update at %s, got %s (%v)", rec.Timestamp, last, err)
	}
}

func TestSink_PersistSentinel(t *testing.T) {
	dir := t.TempDir()
	avg := spectra.NewLog(filepath.Join(dir, "spectra.log"))
	peak := spectra.NewLog(spectra.PeakPath(avg.Path()))
	store := &fakeStore{}

	sink := NewSink(WithAverageLog(avg), WithPeakLog(peak), WithRoundRobin(store, time.Minute))

	report, err := sink.Persist(context.Background(), spectrum.SentinelRecord(testBand, time.Now()))
	if err != nil {
		t.Fatalf("Failed to persist sentinel: %v", err)
	}
	if report.Outcome != OutcomeSuccess {
		t.Errorf("Expected success, got %s", report.Outcome)
	}

	for _, l := range []*spectra.Log{avg, peak} {
		data, rErr := l.Read(0)
		if rErr != nil {
			t.Fatalf("Failed to read %s: %v", l.Path(), rErr)
		}
		if len(data.Spectra) != 1 || len(data.Spectra[0]) != testBand.Bins || !spectrum.IsSentinelRow(data.Spectra[0]) {
			t.Errorf("Expected one sentinel row of %d values in %s, got %v", testBand.Bins, l.Path(), data.Spectra)
		}
	}

	if len(store.updates) != 1 {
		t.Fatalf("Expected one round-robin update, got %d", len(store.updates))
	}
	for i, v := range store.updates[0] {
		if !math.IsNaN(v) {
			t.Errorf("Value %d: expected unknown, got %v", i, v)
		}
	}
}

func TestSink_UpdateUsesTemplatePrecision(t *testing.T) {
	store := &fakeStore{}
	sink := NewSink(WithRoundRobin(store, time.Minute))

	rec := &spectrum.ReducedRecord{
		Band:        testBand,
		Timestamp:   time.Unix(1767225600, 0).UTC(),
		MedianPower: -95.23456,
		P95Power:    -80.16789,
		SNREstimate: 15.06667,
	}
	if _, err := sink.Persist(context.Background(), rec); err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}

	if len(store.records) != 1 || store.records[0] != "1767225600:-95.2:-80.2:15.07" {
		t.Fatalf("Unexpected update records %q", store.records)
	}
	want := []float64{-95.2, -80.2, 15.07}
	for i, v := range store.updates[0] {
		if v != want[i] {
			t.Errorf("Value %d: expected %v, got %v", i, want[i], v)
		}
	}
}

func TestSink_SchemaMismatchIsPartial(t *testing.T) {
	dir := t.TempDir()
	avg := spectra.NewLog(filepath.Join(dir, "spectra.log"))
	peak := spectra.NewLog(spectra.PeakPath(avg.Path()))

	if err := avg.Create(spectrum.FrequencyBand{LowerKHz: 7000, UpperKHz: 14500, Bins: 8}); err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}
	before, err := os.ReadFile(avg.Path())
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}

	sink := NewSink(WithAverageLog(avg), WithPeakLog(peak))
	report, err := sink.Persist(context.Background(), testRecord(t))

	if !errors.Is(err, ErrSchemaMismatch) || !errors.Is(err, spectra.ErrSchemaMismatch) {
		t.Errorf("Expected schema mismatch, got %v", err)
	}
	if report.Outcome != OutcomePartial {
		t.Errorf("Expected partial outcome, got %s", report.Outcome)
	}
	if written := report.Written(); len(written) != 1 || written[0] != peak.Path() {
		t.Errorf("Expected only the peak log to be written, got %v", written)
	}

	after, err := os.ReadFile(avg.Path())
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if string(before) != string(after) {
		t.Error("Mismatched log was modified")
	}
}

func TestSink_StorageError(t *testing.T) {
	ioErr := errors.New("disk full")
	sink := NewSink(WithRoundRobin(&fakeStore{updateErr: ioErr}, time.Minute))

	report, err := sink.Persist(context.Background(), testRecord(t))
	if !errors.Is(err, ErrStorage) || !errors.Is(err, ioErr) {
		t.Errorf("Expected wrapped storage error, got %v", err)
	}
	if report.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", report.Outcome)
	}

	sink = NewSink(WithRoundRobin(&fakeStore{createErr: storage.ErrSchemaMismatch}, time.Minute))
	if _, err = sink.Persist(context.Background(), testRecord(t)); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Expected schema mismatch from store, got %v", err)
	}
}

func TestSink_NoTargets(t *testing.T) {
	report, err := NewSink().Persist(context.Background(), testRecord(t))
	if !errors.Is(err, ErrNoTargets) || report.Outcome != OutcomeFailed {
		t.Errorf("Expected ErrNoTargets, got %s / %v", report.Outcome, err)
	}
}
