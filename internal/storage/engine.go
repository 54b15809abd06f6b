package storage

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrStaleUpdate is returned when an update is not newer than the last one.
var ErrStaleUpdate = errors.New("update time is not after the last update")

// pdpState accumulates the known part of the current step of one data source.
type pdpState struct {
	Sum   float64 `json:"sum"`   // value * seconds over known time
	Known float64 `json:"known"` // known seconds
}

// cdpState accumulates the primary data points of the current row of one archive and
// data source. Value is meaningful only when Known > 0.
type cdpState struct {
	Value float64 `json:"value"`
	Known int     `json:"known"`
}

// engineState is everything a store needs to resume consolidation after a restart. It
// holds no NaN values so it can be persisted as JSON.
type engineState struct {
	LastUpdate int64        `json:"lastUpdate"` // unix seconds
	PDP        []pdpState   `json:"pdp"`        // [data source]
	CDP        [][]cdpState `json:"cdp"`        // [archive][data source]
}

// archiveRow is one consolidated row ready to be written.
type archiveRow struct {
	archive int
	time    int64 // end of the row, unix seconds
	values  []float64
}

func newEngineState(schema *Schema, start time.Time) *engineState {
	st := engineState{
		LastUpdate: start.Unix(),
		PDP:        make([]pdpState, len(schema.DataSources)),
		CDP:        make([][]cdpState, len(schema.Archives)),
	}
	for a := range st.CDP {
		st.CDP[a] = make([]cdpState, len(schema.DataSources))
	}
	return &st
}

// update feeds one sample per data source, recorded at ts, into the consolidation state
// and returns the rows completed by it. NaN is an unknown value.
//
// The value of an update applies to the whole interval since the previous update. Primary
// data points are the time-weighted mean of the known part of each step and are unknown
// when less than half of the step is known.
func (st *engineState) update(schema *Schema, ts int64, values []float64) ([]archiveRow, error) {
	if ts <= st.LastUpdate {
		return nil, fmt.Errorf("%w: %s <= %s", ErrStaleUpdate, unixTime(ts), unixTime(st.LastUpdate))
	}
	if len(values) != len(schema.DataSources) {
		return nil, fmt.Errorf("expected %d values, got %d", len(schema.DataSources), len(values))
	}

	interval := time.Duration(ts-st.LastUpdate) * time.Second
	known := make([]bool, len(values))
	for i, ds := range schema.DataSources {
		v := values[i]
		known[i] = !math.IsNaN(v) && v >= ds.Min && v <= ds.Max && interval <= ds.Heartbeat
	}

	step := int64(schema.Step / time.Second)

	var rows []archiveRow
	for t := st.LastUpdate; t < ts; {
		boundary := (t/step + 1) * step
		end := min(boundary, ts)

		seconds := float64(end - t)
		for i := range st.PDP {
			if known[i] {
				st.PDP[i].Sum += values[i] * seconds
				st.PDP[i].Known += seconds
			}
		}

		if end < boundary {
			break // inside the current step
		}

		rows = append(rows, st.consolidate(schema, boundary, st.primaryPoints(schema))...)
		t = boundary
	}

	st.LastUpdate = ts
	return rows, nil
}

// primaryPoints closes the current step and resets the accumulators.
func (st *engineState) primaryPoints(schema *Schema) []float64 {
	half := schema.Step.Seconds() / 2

	pdps := make([]float64, len(st.PDP))
	for i, p := range st.PDP {
		if p.Known < half {
			pdps[i] = math.NaN()
		} else {
			pdps[i] = p.Sum / p.Known
		}
		st.PDP[i] = pdpState{}
	}
	return pdps
}

// consolidate adds the primary data points of the step ending at end to every archive and
// returns the rows completed at end.
func (st *engineState) consolidate(schema *Schema, end int64, pdps []float64) []archiveRow {
	step := int64(schema.Step / time.Second)

	var rows []archiveRow
	for a, arc := range schema.Archives {
		for i, v := range pdps {
			if !math.IsNaN(v) {
				st.CDP[a][i].add(arc.CF, v)
			}
		}

		if (end/step)%int64(arc.Steps) != 0 {
			continue
		}

		row := archiveRow{archive: a, time: end, values: make([]float64, len(pdps))}
		for i := range pdps {
			row.values[i] = st.CDP[a][i].value(arc)
			st.CDP[a][i] = cdpState{}
		}
		rows = append(rows, row)
	}
	return rows
}

func (c *cdpState) add(cf ConsolidationFunction, v float64) {
	switch {
	case c.Known == 0, cf == Last:
		c.Value = v
	case cf == Average:
		c.Value += v
	case cf == Max:
		c.Value = max(c.Value, v)
	case cf == Min:
		c.Value = min(c.Value, v)
	}
	c.Known++
}

// value is unknown when the unknown fraction of the row exceeds the archive xff. Points
// missing because the store was created mid-row count as unknown.
func (c *cdpState) value(arc Archive) float64 {
	unknown := float64(arc.Steps-c.Known) / float64(arc.Steps)
	if c.Known == 0 || unknown > arc.XFF {
		return math.NaN()
	}
	if arc.CF == Average {
		return c.Value / float64(c.Known)
	}
	return c.Value
}

func unixTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
