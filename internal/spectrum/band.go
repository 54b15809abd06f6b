package spectrum

import (
	"fmt"
	"math"
)

const (
	// FullSpanKHz is the span of a 30 MHz KiwiSDR at zoom 0.
	FullSpanKHz = 30000.0

	// DefaultBins is the number of waterfall bins sent by the server.
	DefaultBins = 1024
)

// BandConfig is the receiver-side description of a logging target, from which the
// persisted FrequencyBand and the server zoom/start parameters are derived.
type BandConfig struct {
	Zoom      int `yaml:"zoom" json:"zoom"`           // Zoom factor, 0 shows the full span
	OffsetKHz int `yaml:"offsetKHz" json:"offsetKHz"` // Start frequency in kHz
	Bins      int `yaml:"bins" json:"bins"`           // Number of waterfall bins
}

// SpanKHz returns the integral span in kHz for the configured zoom.
func (c BandConfig) SpanKHz() int {
	if c.Zoom > 0 {
		return int(FullSpanKHz / math.Pow(2, float64(c.Zoom)))
	}
	return int(FullSpanKHz)
}

// Band derives the frequency band covered at this zoom and offset.
func (c BandConfig) Band() FrequencyBand {
	span := float64(c.SpanKHz())
	center := float64(int(span/2 + float64(c.OffsetKHz)))

	return FrequencyBand{
		LowerKHz: center - span/2,
		UpperKHz: center + span/2,
		Bins:     c.bins(),
	}
}

// StartParameter returns the value sent as "start" in the zoom command.
func (c BandConfig) StartParameter() int {
	if c.OffsetKHz <= 0 {
		return 0
	}
	start := (float64(c.OffsetKHz) + 100) / (FullSpanKHz / float64(c.bins())) * math.Pow(2, 4) * 1000
	return int(math.Max(0, start))
}

// StoreName returns the base name ("<host>_<lower>_<upper>") of the round-robin
// store for this band on the given host.
func (c BandConfig) StoreName(host string) string {
	b := c.Band()
	return fmt.Sprintf("%s_%d_%d", host, int(b.LowerKHz), int(b.UpperKHz))
}

// Validate checks the configuration for values the server cannot serve.
func (c BandConfig) Validate() error {
	if c.Zoom < 0 || c.Zoom > 14 {
		return fmt.Errorf("invalid zoom %d: expected 0..14", c.Zoom)
	}
	if c.OffsetKHz < 0 || float64(c.OffsetKHz) >= FullSpanKHz {
		return fmt.Errorf("invalid offset %d kHz: expected 0..%d", c.OffsetKHz, int(FullSpanKHz)-1)
	}
	if c.Bins < 0 {
		return fmt.Errorf("invalid bin count %d", c.Bins)
	}
	return nil
}

func (c BandConfig) bins() int {
	if c.Bins <= 0 {
		return DefaultBins
	}
	return c.Bins
}
