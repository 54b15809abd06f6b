package spectra

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

func formatHeader(band spectrum.FrequencyBand) string {
	return fmt.Sprintf("%s,%.1f,%.1f,%.1f\n", headerTag, band.LowerKHz, band.UpperKHz, float64(band.Bins))
}

func parseHeader(record []string) (band spectrum.FrequencyBand, err error) {
	if len(record) != 4 || record[0] != headerTag {
		return band, fmt.Errorf("%w: unexpected header %q", ErrNotSpectraLog, strings.Join(record, ","))
	}

	var values [3]float64
	for i, field := range record[1:] {
		if values[i], err = strconv.ParseFloat(field, 64); err != nil {
			return band, fmt.Errorf("%w: header field %d: %w", ErrNotSpectraLog, i+1, err)
		}
	}

	return spectrum.FrequencyBand{
		LowerKHz: values[0],
		UpperKHz: values[1],
		Bins:     int(math.Round(values[2])),
	}, nil
}

func formatRow(ts time.Time, row spectrum.PowerRow) string {
	buf := make([]byte, 0, 28+len(row)*7)
	buf = ts.UTC().AppendFormat(buf, timeLayout)
	buf = append(buf, 'Z')
	for _, v := range row {
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, v, 'f', 1, 64)
	}
	buf = append(buf, '\n')
	return string(buf)
}

func parseRow(record []string) (time.Time, spectrum.PowerRow, error) {
	ts, err := parseTime(record[0])
	if err != nil {
		return ts, nil, err
	}

	row := make(spectrum.PowerRow, len(record)-1)
	for i, field := range record[1:] {
		if row[i], err = strconv.ParseFloat(field, 64); err != nil {
			return ts, nil, fmt.Errorf("bin %d: %w", i, err)
		}
	}
	return ts, row, nil
}

func parseTime(field string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, field)
	if err != nil {
		return ts, fmt.Errorf("invalid timestamp %q: %w", field, err)
	}
	return ts.UTC(), nil
}
