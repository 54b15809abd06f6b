package spectrum

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestReduce_SingleRow(t *testing.T) {
	band := FrequencyBand{LowerKHz: 0, UpperKHz: 30000, Bins: 4}
	row := PowerRow{-90, -80, -70, -60}

	rec, err := Reduce(SampleMatrix{row}, band, time.Now())
	if err != nil {
		t.Fatalf("Failed to reduce: %v", err)
	}

	for i := range row {
		if rec.AverageSpectrum[i] != row[i] {
			t.Errorf("Average bin %d: expected %.1f, got %.1f", i, row[i], rec.AverageSpectrum[i])
		}
		if rec.PeakSpectrum[i] != row[i] {
			t.Errorf("Peak bin %d: expected %.1f, got %.1f", i, row[i], rec.PeakSpectrum[i])
		}
	}
	if rec.P95Power == rec.MedianPower {
		t.Errorf("Non-constant row must have p95 != median, both are %.2f", rec.MedianPower)
	}
	if rec.Rows != 1 {
		t.Errorf("Expected 1 reduced row, got %d", rec.Rows)
	}
}

func TestReduce_ConstantRow(t *testing.T) {
	band := FrequencyBand{LowerKHz: 0, UpperKHz: 30000, Bins: 1024}
	row := make(PowerRow, 1024)
	for i := range row {
		row[i] = -26
	}
	m := make(SampleMatrix, 10)
	for i := range m {
		m[i] = row
	}

	rec, err := Reduce(m, band, time.Now())
	if err != nil {
		t.Fatalf("Failed to reduce: %v", err)
	}

	for i := range rec.AverageSpectrum {
		if rec.AverageSpectrum[i] != -26 || rec.PeakSpectrum[i] != -26 {
			t.Fatalf("Bin %d: expected -26 dB, got avg %.2f peak %.2f", i, rec.AverageSpectrum[i], rec.PeakSpectrum[i])
		}
	}
	if rec.MedianPower != -26 || rec.P95Power != -26 {
		t.Errorf("Expected median == p95 == -26, got %.2f / %.2f", rec.MedianPower, rec.P95Power)
	}
	if rec.SNREstimate != 0 {
		t.Errorf("Expected SNR 0, got %.2f", rec.SNREstimate)
	}

	// 1024 bins of -26 dB: 10*log10(1024 * 10^-2.6) - 3
	expected := 10*math.Log10(1024*math.Pow(10, -2.6)) - 3
	if math.Abs(rec.TotalPowerEstimate-expected) > 1e-9 {
		t.Errorf("Expected total power %.4f, got %.4f", expected, rec.TotalPowerEstimate)
	}
}

func TestReduce_ColumnStatistics(t *testing.T) {
	band := FrequencyBand{Bins: 3}
	m := SampleMatrix{
		{-100, -50, -80},
		{-90, -70, -80},
		{-80, -60, -20},
	}

	rec, err := Reduce(m, band, time.Now())
	if err != nil {
		t.Fatalf("Failed to reduce: %v", err)
	}

	expectedAvg := []float64{-90, -60, -60}
	expectedPeak := []float64{-80, -50, -20}
	for i := range expectedAvg {
		if math.Abs(rec.AverageSpectrum[i]-expectedAvg[i]) > 1e-9 {
			t.Errorf("Average bin %d: expected %.2f, got %.2f", i, expectedAvg[i], rec.AverageSpectrum[i])
		}
		if rec.PeakSpectrum[i] != expectedPeak[i] {
			t.Errorf("Peak bin %d: expected %.2f, got %.2f", i, expectedPeak[i], rec.PeakSpectrum[i])
		}
	}

	// percentiles come from the averaged spectrum, not from the peaks
	if rec.MedianPower != -60 {
		t.Errorf("Expected median -60, got %.2f", rec.MedianPower)
	}
	if rec.P95Power != -60 {
		t.Errorf("Expected p95 -60, got %.2f", rec.P95Power)
	}
	expectedTotal := SumPower(PowerRow{-80, -50, -20}) - 3
	if math.Abs(rec.TotalPowerEstimate-expectedTotal) > 1e-9 {
		t.Errorf("Expected total power from peaks %.4f, got %.4f", expectedTotal, rec.TotalPowerEstimate)
	}
}

func TestReduce_Errors(t *testing.T) {
	if _, err := Reduce(nil, FrequencyBand{}, time.Now()); !errors.Is(err, ErrEmptyMatrix) {
		t.Errorf("Expected ErrEmptyMatrix, got %v", err)
	}
	if _, err := Reduce(SampleMatrix{}, FrequencyBand{}, time.Now()); !errors.Is(err, ErrEmptyMatrix) {
		t.Errorf("Expected ErrEmptyMatrix for empty matrix, got %v", err)
	}
	ragged := SampleMatrix{{-1, -2}, {-1}}
	if _, err := Reduce(ragged, FrequencyBand{}, time.Now()); !errors.Is(err, ErrRaggedMatrix) {
		t.Errorf("Expected ErrRaggedMatrix, got %v", err)
	}
}

func TestPercentile(t *testing.T) {
	testCases := []struct {
		name     string
		values   []float64
		p        float64
		expected float64
	}{
		{"single", []float64{5}, 95, 5},
		{"median odd", []float64{3, 1, 2}, 50, 2},
		{"median even", []float64{4, 1, 3, 2}, 50, 2.5},
		{"p95 interpolated", []float64{0, 10, 20, 30, 40}, 95, 38},
		{"p0", []float64{7, 3, 9}, 0, 3},
		{"p100", []float64{7, 3, 9}, 100, 9},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Percentile(tc.values, tc.p); math.Abs(got-tc.expected) > 1e-9 {
				t.Errorf("Expected %.3f, got %.3f", tc.expected, got)
			}
		})
	}

	if !math.IsNaN(Percentile(nil, 50)) {
		t.Error("Percentile of empty input should be NaN")
	}
}

func TestSentinelRecord(t *testing.T) {
	band := FrequencyBand{LowerKHz: 0, UpperKHz: 30000, Bins: 1024}
	rec := SentinelRecord(band, time.Now())

	if !rec.IsSentinel {
		t.Error("Sentinel record must be flagged")
	}
	for name, row := range map[string]PowerRow{"average": rec.AverageSpectrum, "peak": rec.PeakSpectrum} {
		if len(row) != band.Bins {
			t.Errorf("Expected %d %s values, got %d", band.Bins, name, len(row))
		}
		if !IsSentinelRow(row) {
			t.Errorf("Expected %s spectrum to be all %.0f", name, SentinelPower)
		}
	}
}
