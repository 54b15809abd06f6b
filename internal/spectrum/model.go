package spectrum

import (
	"fmt"
	"time"
)

// SentinelPower is the magnitude written in place of real spectra when a
// sampling session collected no usable data.
const SentinelPower = -999.0

// PowerRow is one calibrated spectrum sample in dB, ordered from the lowest to the
// highest frequency bin.
type PowerRow []float64

// SampleMatrix is the ordered sequence of rows collected by one sampling session.
type SampleMatrix []PowerRow

// FrequencyBand describes the span covered by a logging target. It is attached to
// every persisted series and validated on every append.
type FrequencyBand struct {
	LowerKHz float64 `yaml:"lowerKHz" json:"lowerKHz"` // Lower edge of the first bin in kHz
	UpperKHz float64 `yaml:"upperKHz" json:"upperKHz"` // Upper edge of the last bin in kHz
	Bins     int     `yaml:"bins" json:"bins"`         // Number of frequency bins
}

// SpanKHz returns the width of the band in kHz.
func (b FrequencyBand) SpanKHz() float64 {
	return b.UpperKHz - b.LowerKHz
}

// RBW returns the resolution bandwidth (span per bin) in kHz.
func (b FrequencyBand) RBW() float64 {
	if b.Bins == 0 {
		return 0
	}
	return b.SpanKHz() / float64(b.Bins)
}

// Equal reports whether two bands describe the same schema. Edges are compared at
// the 0.1 kHz precision they are persisted with.
func (b FrequencyBand) Equal(o FrequencyBand) bool {
	return b.Bins == o.Bins &&
		fmt.Sprintf("%.1f", b.LowerKHz) == fmt.Sprintf("%.1f", o.LowerKHz) &&
		fmt.Sprintf("%.1f", b.UpperKHz) == fmt.Sprintf("%.1f", o.UpperKHz)
}

func (b FrequencyBand) String() string {
	return fmt.Sprintf("%.1f-%.1f kHz/%d bins", b.LowerKHz, b.UpperKHz, b.Bins)
}

// ReducedRecord is the single durable artifact of one sampling session.
type ReducedRecord struct {
	Timestamp time.Time     // Session completion time (UTC)
	Band      FrequencyBand // Band the spectra were collected over
	Rows      int           // Number of rows that were reduced

	AverageSpectrum PowerRow // Per-bin mean across all rows
	PeakSpectrum    PowerRow // Per-bin maximum across all rows

	MedianPower        float64 // 50th percentile of the average spectrum
	P95Power           float64 // 95th percentile of the average spectrum
	SNREstimate        float64 // P95Power - MedianPower
	TotalPowerEstimate float64 // dB sum of the peak spectrum minus 3 dB

	IsSentinel bool // No usable data was collected; spectra hold SentinelPower
}

// SentinelRecord builds the placeholder record persisted when a session fails to
// collect usable data. Both spectra carry exactly band.Bins sentinel values.
func SentinelRecord(band FrequencyBand, ts time.Time) *ReducedRecord {
	return &ReducedRecord{
		Timestamp:          ts.UTC(),
		Band:               band,
		AverageSpectrum:    filledRow(band.Bins, SentinelPower),
		PeakSpectrum:       filledRow(band.Bins, SentinelPower),
		MedianPower:        SentinelPower,
		P95Power:           SentinelPower,
		TotalPowerEstimate: SentinelPower,
		IsSentinel:         true,
	}
}

// IsSentinelRow reports whether every value in the row is at or below the
// sentinel magnitude.
func IsSentinelRow(row PowerRow) bool {
	if len(row) == 0 {
		return false
	}
	for _, v := range row {
		if v > SentinelPower {
			return false
		}
	}
	return true
}

func filledRow(n int, v float64) PowerRow {
	row := make(PowerRow, n)
	for i := range row {
		row[i] = v
	}
	return row
}
