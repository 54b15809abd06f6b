package storage

import (
	"time"
)

// Series is a block of consolidated rows fetched from one archive.
type Series struct {
	CF     ConsolidationFunction
	Names  []string      // Data source names, in column order
	Start  time.Time     // End time of the first row
	Step   time.Duration // Time covered by one row
	Values [][]float64   // Values[row][column], NaN when unknown
}

// Len returns the number of rows.
func (s *Series) Len() int {
	return len(s.Values)
}

// Time returns the end time of row i.
func (s *Series) Time(i int) time.Time {
	return s.Start.Add(time.Duration(i) * s.Step)
}

// Column returns the values of the named data source, or nil when there is no such column.
func (s *Series) Column(name string) []float64 {
	idx := -1
	for i, n := range s.Names {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	col := make([]float64, len(s.Values))
	for i, row := range s.Values {
		col[i] = row[idx]
	}
	return col
}
