package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const pixelsPerLabel = 80.0

// niceStep returns a 1-2-5 step that divides span into roughly length/pixelsPerLabel parts
func niceStep(span float64, length int) float64 {
	if span <= 0 || length <= 0 {
		return 1
	}

	desired := math.Max(1, float64(length)/pixelsPerLabel)
	rough := span / desired

	magnitude := math.Pow(10, math.Floor(math.Log10(rough)))
	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * magnitude; step >= rough {
			return step
		}
	}
	return 10 * magnitude
}

// ticks returns the multiples of step within [lo, hi]
func ticks(lo, hi, step float64) []float64 {
	var out []float64
	start := math.Ceil(lo/step-1e-9) * step
	for v := start; v <= hi+step*1e-9; v += step {
		out = append(out, v)
	}
	return out
}

// niceTimeStep returns a readable tick interval for a time axis of the given length
func niceTimeStep(duration time.Duration, length int) time.Duration {
	desired := math.Max(1, float64(length)/(pixelsPerLabel*1.5))
	rough := duration.Seconds() / desired

	niceIntervals := []time.Duration{
		time.Minute,
		5 * time.Minute,
		10 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		time.Hour,
		2 * time.Hour,
		3 * time.Hour,
		6 * time.Hour,
		12 * time.Hour,
		24 * time.Hour,
		2 * 24 * time.Hour,
		7 * 24 * time.Hour,
	}

	for _, interval := range niceIntervals {
		if rough <= interval.Seconds() {
			return interval
		}
	}
	return 14 * 24 * time.Hour
}

// timeTicks returns tick times aligned to step in UTC within [start, end]
func timeTicks(start, end time.Time, step time.Duration) []time.Time {
	var out []time.Time
	sec := int64(step / time.Second)
	if sec <= 0 {
		return nil
	}

	first := start.Unix()
	if r := first % sec; r != 0 {
		first += sec - r
	}
	for t := first; t <= end.Unix(); t += sec {
		out = append(out, time.Unix(t, 0).UTC())
	}
	return out
}

// timeFormat picks a label layout for the tick interval
func timeFormat(step time.Duration) string {
	switch {
	case step >= 24*time.Hour:
		return "Jan 02"
	case step >= time.Hour:
		return "02 15:04"
	default:
		return "15:04"
	}
}

// FormatFrequency renders a frequency given in kHz with an SI prefix, e.g. "7.25 MHz".
func FormatFrequency(kHz float64) string {
	value, prefix := humanize.ComputeSI(kHz * 1e3)
	return fmt.Sprintf("%s %sHz", trimZeros(fmt.Sprintf("%.3f", value)), prefix)
}

func formatTick(v, step float64) string {
	decimals := 0
	if step < 1 {
		decimals = int(math.Ceil(-math.Log10(step)))
	}
	s := fmt.Sprintf("%.*f", decimals, v)
	if s == "-0" {
		return "0"
	}
	return s
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
