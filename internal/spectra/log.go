package spectra

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

const (
	headerTag = "#SPECTRA"

	// timeLayout renders UTC timestamps without a zone suffix; "Z" is appended on write.
	timeLayout = "2006-01-02T15:04:05.999999"
)

var (
	// ErrSchemaMismatch is returned when the band recorded in a log header differs from
	// the band of the row being appended. The log is left untouched.
	ErrSchemaMismatch = errors.New("spectra log band mismatch")

	// ErrNotSpectraLog is returned when the first line of a file is not a spectra header.
	ErrNotSpectraLog = errors.New("not a spectra log")
)

// Data is the content of a spectra log read back within a time window.
type Data struct {
	Band    spectrum.FrequencyBand
	Times   []time.Time
	Spectra spectrum.SampleMatrix // Spectra[i] was recorded at Times[i]
	Skipped int                   // Lines that could not be parsed or had the wrong width
}

// WithLogger sets the logger for the spectra log
func WithLogger(logger *slog.Logger) func(l *Log) {
	return func(l *Log) {
		l.logger = logger.With(slog.String("spectra", l.path))
	}
}

// WithClock replaces the time source used to evaluate read and clip windows.
func WithClock(now func() time.Time) func(l *Log) {
	return func(l *Log) {
		l.now = now
	}
}

// Log is an append-only, line-oriented spectra log.
//
// The first line is the header "#SPECTRA,<lower>,<upper>,<bins>" and every following
// line is "<ISO-8601 UTC>Z,<v1>,...,<vN>" with values at one decimal place.
type Log struct {
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// NewLog creates a new Log for path with a discard logger
func NewLog(path string, options ...func(l *Log)) *Log {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	l := Log{
		path:   path,
		now:    time.Now,
		logger: logger,
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// Path returns the file path of the log.
func (l *Log) Path() string {
	return l.path
}

// PeakPath derives the path of the companion peak-spectrum log: "spectra.log" becomes
// "spectra_peak.log".
func PeakPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_peak" + ext
}

// Create writes a new log holding only the header for band. An existing file is truncated.
func (l *Log) Create(band spectrum.FrequencyBand) (err error) {
	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("creating spectra log: %w", err)
	}
	defer closeWithError(f, &err)

	if _, err = f.WriteString(formatHeader(band)); err != nil {
		return fmt.Errorf("writing spectra header: %w", err)
	}
	return nil
}

// Header reads the band recorded in the first line of the log.
func (l *Log) Header() (band spectrum.FrequencyBand, err error) {
	f, err := os.Open(l.path)
	if err != nil {
		return band, fmt.Errorf("opening spectra log: %w", err)
	}
	defer closeWithError(f, &err)

	r := newReader(f)
	record, err := r.Read()
	if err != nil {
		return band, fmt.Errorf("%w: %s: %w", ErrNotSpectraLog, l.path, err)
	}
	return parseHeader(record)
}

// Append adds one row recorded at ts. The log is created when it does not exist; otherwise
// its header must match band, or ErrSchemaMismatch is returned and nothing is written.
func (l *Log) Append(band spectrum.FrequencyBand, ts time.Time, row spectrum.PowerRow) (err error) {
	if len(row) != band.Bins {
		return fmt.Errorf("%w: row has %d values, band has %d bins", ErrSchemaMismatch, len(row), band.Bins)
	}

	existing, err := l.Header()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Info("creating spectra log", slog.String("band", band.String()))
		if err = l.Create(band); err != nil {
			return err
		}
	case err != nil:
		return err
	case !existing.Equal(band):
		return fmt.Errorf("%w: log has %s, row has %s", ErrSchemaMismatch, existing, band)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening spectra log for append: %w", err)
	}
	defer closeWithError(f, &err)

	if _, err = f.WriteString(formatRow(ts, row)); err != nil {
		return fmt.Errorf("appending spectra row: %w", err)
	}
	return nil
}

// AppendSentinel adds a row of band.Bins sentinel values so that a failed session shows up
// as a gap instead of being interpolated away.
func (l *Log) AppendSentinel(band spectrum.FrequencyBand, ts time.Time) error {
	rec := spectrum.SentinelRecord(band, ts)
	return l.Append(band, rec.Timestamp, rec.AverageSpectrum)
}

// Read returns the rows recorded within window of now, in file order. A zero window
// returns every row. Lines that cannot be parsed or whose value count differs from the
// header's bin count are skipped and counted.
func (l *Log) Read(window time.Duration) (data *Data, err error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("opening spectra log: %w", err)
	}
	defer closeWithError(f, &err)

	r := newReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotSpectraLog, l.path, err)
	}

	band, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	data = &Data{Band: band}
	now := l.now().UTC()

	for {
		record, rErr := r.Read()
		if errors.Is(rErr, io.EOF) {
			break
		}
		if rErr != nil {
			return nil, fmt.Errorf("reading spectra log: %w", rErr)
		}

		ts, row, pErr := parseRow(record)
		if pErr == nil && len(row) != band.Bins {
			pErr = fmt.Errorf("%w: %d values, expected %d", ErrSchemaMismatch, len(row), band.Bins)
		}
		if pErr != nil {
			data.Skipped++
			line, _ := r.FieldPos(0)
			l.logger.Warn(fmt.Sprintf("skipping line %d: %s", line, pErr.Error()))
			continue
		}
		if !inWindow(now, ts, window) {
			continue
		}

		data.Times = append(data.Times, ts)
		data.Spectra = append(data.Spectra, row)
	}

	return data, nil
}

// Clip rewrites the log keeping the header and only the rows recorded within window of now.
// The new content is written to a temporary file in the same directory and renamed over the
// log, so a failed clip leaves the original intact. It returns the number of kept rows.
func (l *Log) Clip(window time.Duration) (kept int, err error) {
	src, err := os.Open(l.path)
	if err != nil {
		return 0, fmt.Errorf("opening spectra log: %w", err)
	}
	defer closeWithError(src, &err)

	r := newReader(src)
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrNotSpectraLog, l.path, err)
	}
	if _, err = parseHeader(header); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".clip-*")
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if info, sErr := src.Stat(); sErr == nil {
		_ = tmp.Chmod(info.Mode().Perm()) // keep the permissions of the original log
	}

	w := csv.NewWriter(tmp)
	if err = w.Write(header); err != nil {
		return 0, fmt.Errorf("writing spectra header: %w", err)
	}

	now := l.now().UTC()
	dropped := 0
	for {
		record, rErr := r.Read()
		if errors.Is(rErr, io.EOF) {
			break
		}
		if rErr != nil {
			return 0, fmt.Errorf("reading spectra log: %w", rErr)
		}

		ts, pErr := parseTime(record[0])
		if pErr != nil || !inWindow(now, ts, window) {
			dropped++
			continue
		}
		if err = w.Write(record); err != nil {
			return 0, fmt.Errorf("writing spectra row: %w", err)
		}
		kept++
	}

	w.Flush()
	if err = w.Error(); err != nil {
		return 0, fmt.Errorf("flushing spectra log: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temporary file: %w", err)
	}
	if err = os.Rename(tmp.Name(), l.path); err != nil {
		return 0, fmt.Errorf("replacing spectra log: %w", err)
	}

	l.logger.Debug("clipped spectra log", slog.Int("kept", kept), slog.Int("dropped", dropped))
	return kept, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // header and rows differ in width
	cr.ReuseRecord = false
	return cr
}

func inWindow(now, ts time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return now.Sub(ts).Abs() <= window
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
