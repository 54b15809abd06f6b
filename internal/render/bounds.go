package render

import (
	"math"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

const (
	// For 20 samples:
	// - 5% percentile  = 1 sample
	// - 95% percentile = 19th sample
	minimumSampleCount = 20

	minimumRangeDB = 30
)

// powerHistogram counts power values in 1 dB bins
type powerHistogram struct {
	bins   map[int]int
	total  int
	minBin int
	maxBin int
}

func newPowerHistogram() *powerHistogram {
	return &powerHistogram{
		bins:   make(map[int]int),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

// add counts power, skipping unknown and sentinel values
func (h *powerHistogram) add(power float64) {
	if math.IsNaN(power) || math.IsInf(power, 0) || power <= sentinelPower {
		return
	}

	bin := int(math.Floor(power))
	h.bins[bin]++
	h.total++
	h.minBin = min(h.minBin, bin)
	h.maxBin = max(h.maxBin, bin)
}

// percentileBounds returns the 5th to 95th percentile range widened to at least
// minimumRangeDB, with a 10% margin on both ends
func (h *powerHistogram) percentileBounds(fallback PowerBounds) PowerBounds {
	if h.total < minimumSampleCount {
		return fallback
	}

	target := h.total * 5 / 100
	lo, hi := h.minBin, h.maxBin

	count := 0
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += h.bins[bin]
		if count >= target {
			lo = bin
			break
		}
	}

	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += h.bins[bin]
		if count >= target {
			hi = bin + 1 // upper edge of the bin
			break
		}
	}

	if hi-lo < minimumRangeDB {
		center := (hi + lo) / 2
		lo, hi = center-minimumRangeDB/2, center+minimumRangeDB/2
	}

	margin := (hi - lo) / 10
	return PowerBounds{Min: float64(lo - margin), Max: float64(hi + margin)}
}

// AutoBounds derives colour map bounds from the distribution of the known values in m.
// fallback is returned when m holds too few known values.
func AutoBounds(m spectrum.SampleMatrix, fallback PowerBounds) PowerBounds {
	h := newPowerHistogram()
	for _, row := range m {
		for _, v := range row {
			h.add(v)
		}
	}
	return h.percentileBounds(fallback)
}
