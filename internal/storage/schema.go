package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

// ConsolidationFunction selects how primary data points are combined into one archive row.
type ConsolidationFunction string

const (
	Average ConsolidationFunction = "AVERAGE"
	Max     ConsolidationFunction = "MAX"
	Min     ConsolidationFunction = "MIN"
	Last    ConsolidationFunction = "LAST"
)

// Gauge is the only supported data source type: values are stored as they are read.
const Gauge = "GAUGE"

var (
	// ErrSchemaMismatch is returned when an existing store was created for a different
	// band or different data sources.
	ErrSchemaMismatch = errors.New("round-robin store schema mismatch")

	// ErrInvalidSchema is returned by Schema.Validate.
	ErrInvalidSchema = errors.New("invalid round-robin schema")
)

// DataSource describes one gauge series.
type DataSource struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Heartbeat time.Duration `json:"heartbeat"` // Longest gap between updates before the value becomes unknown
	Min       float64       `json:"min"`       // Values below Min are stored as unknown
	Max       float64       `json:"max"`       // Values above Max are stored as unknown
}

// Archive is a consolidation rule: Steps primary data points are combined with CF into one
// row and Rows rows are kept before the oldest is overwritten.
type Archive struct {
	CF    ConsolidationFunction `json:"cf"`
	XFF   float64               `json:"xff"` // Fraction of unknown points tolerated in one row
	Steps int                   `json:"steps"`
	Rows  int                   `json:"rows"`
}

// Schema describes a round-robin store.
type Schema struct {
	Step        time.Duration          `json:"step"`
	Band        spectrum.FrequencyBand `json:"band"`
	DataSources []DataSource           `json:"dataSources"`
	Archives    []Archive              `json:"archives"`
}

// SNRSchema returns the schema used for the median, p95 and SNR series sampled every step:
// a 5 minute resolution day, a 30 minute resolution week and a 3 hour resolution month with
// its extremes, plus the last value.
func SNRSchema(step time.Duration, band spectrum.FrequencyBand) *Schema {
	hb := 10 * step

	rows := func(resolution, span time.Duration) (steps, count int) {
		steps = max(1, int(resolution/step))
		count = max(1, int(span/(time.Duration(steps)*step)))
		return
	}

	archive := func(cf ConsolidationFunction, xff float64, resolution, span time.Duration) Archive {
		steps, count := rows(resolution, span)
		return Archive{CF: cf, XFF: xff, Steps: steps, Rows: count}
	}

	day := 24 * time.Hour
	return &Schema{
		Step: step,
		Band: band,
		DataSources: []DataSource{
			{Name: "median", Type: Gauge, Heartbeat: hb, Min: -150, Max: -30},
			{Name: "p95", Type: Gauge, Heartbeat: hb, Min: -150, Max: -30},
			{Name: "snr", Type: Gauge, Heartbeat: hb, Min: 0, Max: 60},
		},
		Archives: []Archive{
			archive(Average, 0.5, 5*time.Minute, day),
			archive(Average, 0.5, 30*time.Minute, 7*day),
			archive(Average, 0.5, 3*time.Hour, 30*day),
			archive(Max, 0.1, 3*time.Hour, 30*day),
			archive(Min, 0.1, 3*time.Hour, 30*day),
			{CF: Last, XFF: 0.5, Steps: 1, Rows: 1},
		},
	}
}

// RowDuration returns the time covered by one row of archive a.
func (s *Schema) RowDuration(a int) time.Duration {
	return time.Duration(s.Archives[a].Steps) * s.Step
}

// Index returns the position of the named data source, or -1.
func (s *Schema) Index(name string) int {
	for i, ds := range s.DataSources {
		if ds.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks the schema for values the consolidation engine cannot use.
func (s *Schema) Validate() error {
	if s.Step < time.Second || s.Step%time.Second != 0 {
		return fmt.Errorf("%w: step %s must be a whole number of seconds", ErrInvalidSchema, s.Step)
	}
	if len(s.DataSources) == 0 {
		return fmt.Errorf("%w: no data sources", ErrInvalidSchema)
	}
	if len(s.Archives) == 0 {
		return fmt.Errorf("%w: no archives", ErrInvalidSchema)
	}

	seen := make(map[string]struct{}, len(s.DataSources))
	for _, ds := range s.DataSources {
		if ds.Name == "" {
			return fmt.Errorf("%w: unnamed data source", ErrInvalidSchema)
		}
		if _, ok := seen[ds.Name]; ok {
			return fmt.Errorf("%w: duplicate data source %q", ErrInvalidSchema, ds.Name)
		}
		seen[ds.Name] = struct{}{}

		if ds.Type != Gauge {
			return fmt.Errorf("%w: data source %q has unsupported type %q", ErrInvalidSchema, ds.Name, ds.Type)
		}
		if ds.Heartbeat <= 0 {
			return fmt.Errorf("%w: data source %q has no heartbeat", ErrInvalidSchema, ds.Name)
		}
		if ds.Min >= ds.Max {
			return fmt.Errorf("%w: data source %q has empty range [%g, %g]", ErrInvalidSchema, ds.Name, ds.Min, ds.Max)
		}
	}

	for i, a := range s.Archives {
		switch a.CF {
		case Average, Max, Min, Last:
		default:
			return fmt.Errorf("%w: archive %d has unknown consolidation function %q", ErrInvalidSchema, i, a.CF)
		}
		if a.XFF < 0 || a.XFF >= 1 {
			return fmt.Errorf("%w: archive %d xff %g outside [0, 1)", ErrInvalidSchema, i, a.XFF)
		}
		if a.Steps < 1 || a.Rows < 1 {
			return fmt.Errorf("%w: archive %d needs at least one step and one row", ErrInvalidSchema, i)
		}
	}

	return nil
}

// compatible reports whether a store created with s can receive updates meant for o.
func (s *Schema) compatible(o *Schema) error {
	if !s.Band.Equal(o.Band) {
		return fmt.Errorf("%w: store has band %s, expected %s", ErrSchemaMismatch, s.Band, o.Band)
	}
	if len(s.DataSources) != len(o.DataSources) {
		return fmt.Errorf("%w: store has %d data sources, expected %d", ErrSchemaMismatch, len(s.DataSources), len(o.DataSources))
	}
	for i := range s.DataSources {
		if s.DataSources[i].Name != o.DataSources[i].Name {
			return fmt.Errorf("%w: data source %d is %q, expected %q", ErrSchemaMismatch, i, s.DataSources[i].Name, o.DataSources[i].Name)
		}
	}
	if s.Step != o.Step {
		return fmt.Errorf("%w: store step is %s, expected %s", ErrSchemaMismatch, s.Step, o.Step)
	}
	return nil
}
