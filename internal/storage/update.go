package storage

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidUpdate is returned for update records that cannot be parsed.
var ErrInvalidUpdate = errors.New("invalid update record")

const (
	updateNow     = "N"
	updateUnknown = "U"
)

// FormatUpdate renders the template record "N:<median>:<p95>:<snr>" for the SNR schema.
// NaN values are rendered as unknown.
func FormatUpdate(median, p95, snr float64) string {
	return formatUpdate(updateNow, median, p95, snr)
}

// FormatUpdateAt renders the template record "<unix>:<median>:<p95>:<snr>" for an update
// at ts, truncated to whole seconds.
func FormatUpdateAt(ts time.Time, median, p95, snr float64) string {
	return formatUpdate(strconv.FormatInt(ts.Unix(), 10), median, p95, snr)
}

func formatUpdate(at string, median, p95, snr float64) string {
	return strings.Join([]string{
		at,
		formatValue("%3.1f", median),
		formatValue("%3.1f", p95),
		formatValue("%2.2f", snr),
	}, ":")
}

func formatValue(format string, v float64) string {
	if math.IsNaN(v) {
		return updateUnknown
	}
	return fmt.Sprintf(format, v)
}

// ParseUpdate parses "<time>:<v1>:...:<vN>" where time is "N" (now) or unix seconds and
// each value is a number or "U" (unknown, returned as NaN).
func ParseUpdate(record string, now time.Time) (time.Time, []float64, error) {
	fields := strings.Split(strings.TrimSpace(record), ":")
	if len(fields) < 2 {
		return time.Time{}, nil, fmt.Errorf("%w: %q", ErrInvalidUpdate, record)
	}

	var ts time.Time
	if fields[0] == updateNow {
		ts = now
	} else {
		sec, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("%w: time %q: %w", ErrInvalidUpdate, fields[0], err)
		}
		ts = time.Unix(sec, 0)
	}

	values := make([]float64, len(fields)-1)
	for i, field := range fields[1:] {
		if field == updateUnknown {
			values[i] = math.NaN()
			continue
		}

		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("%w: value %d %q: %w", ErrInvalidUpdate, i+1, field, err)
		}
		values[i] = v
	}

	return ts.UTC(), values, nil
}
