package storage

import (
	"database/sql"
	"math"
	"time"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

// toNullFloat stores NaN (unknown) as NULL
func toNullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// slot returns the position of the row ending at t in an archive of rows rows, each
// covering rowSeconds.
func slot(t, rowSeconds int64, rows int) int64 {
	return (t / rowSeconds) % int64(rows)
}

// alignUp rounds unix seconds t up to a multiple of d seconds
func alignUp(t, d int64) int64 {
	if r := t % d; r != 0 {
		return t + d - r
	}
	return t
}

func unixSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
