package spectrum

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

const (
	// overlapCorrectionDB is subtracted from the summed peak power to account for
	// the overlap of adjacent waterfall bins.
	overlapCorrectionDB = 3.0
)

var (
	// ErrEmptyMatrix is returned when a matrix without rows is reduced. Callers
	// persist a SentinelRecord instead.
	ErrEmptyMatrix = errors.New("empty sample matrix")

	// ErrRaggedMatrix is returned when rows of one matrix differ in length.
	ErrRaggedMatrix = errors.New("sample matrix rows differ in length")
)

// Reduce turns the rows collected by one session into a ReducedRecord.
//
// Average and peak spectra are computed column-wise in the dB domain. Median, p95
// and the SNR estimate are percentiles of the averaged spectrum, while the total
// power estimate is derived from the peak spectrum.
func Reduce(m SampleMatrix, band FrequencyBand, ts time.Time) (*ReducedRecord, error) {
	if len(m) == 0 {
		return nil, ErrEmptyMatrix
	}

	bins := len(m[0])
	if bins == 0 {
		return nil, ErrEmptyMatrix
	}

	avg := make(PowerRow, bins)
	peak := make(PowerRow, bins)
	copy(peak, m[0])

	for i, row := range m {
		if len(row) != bins {
			return nil, fmt.Errorf("%w: row %d has %d bins, expected %d", ErrRaggedMatrix, i, len(row), bins)
		}
		for j, v := range row {
			avg[j] += v
			peak[j] = max(peak[j], v)
		}
	}
	for j := range avg {
		avg[j] /= float64(len(m))
	}

	median := Percentile(avg, 50)
	p95 := Percentile(avg, 95)

	return &ReducedRecord{
		Timestamp:          ts.UTC(),
		Band:               band,
		Rows:               len(m),
		AverageSpectrum:    avg,
		PeakSpectrum:       peak,
		MedianPower:        median,
		P95Power:           p95,
		SNREstimate:        p95 - median,
		TotalPowerEstimate: SumPower(peak) - overlapCorrectionDB,
	}, nil
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between the closest ranks. It returns NaN for an empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	p = math.Min(math.Max(p, 0), 100)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}

	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// SumPower returns the dB value of the linear sum of all per-bin powers.
func SumPower(row PowerRow) float64 {
	var mw float64
	for _, v := range row {
		mw += math.Pow(10, v/10)
	}
	return 10 * math.Log10(mw)
}
