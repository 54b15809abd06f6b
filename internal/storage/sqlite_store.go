package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// defaultStartOffset places the initial last-update time of a new store just before now,
// so the first update at "N" is accepted.
const defaultStartOffset = 10 * time.Second

var (
	// ErrNotCreated is returned when a store file does not hold a round-robin schema.
	ErrNotCreated = errors.New("round-robin store not created")

	// ErrNoData is returned when an archive holds no rows.
	ErrNoData = errors.New("no data available")
)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) func(s *SqliteStore) {
	return func(s *SqliteStore) {
		s.logger = logger.With(slog.String("store", s.dbPath))
	}
}

// WithClock replaces the time source used for "N" updates and the creation time.
func WithClock(now func() time.Time) func(s *SqliteStore) {
	return func(s *SqliteStore) {
		s.now = now
	}
}

// SqliteStore is a fixed-size round-robin time-series store kept in a Sqlite database.
type SqliteStore struct {
	dbPath string
	now    func() time.Time
	logger *slog.Logger

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the Sqlite database at dbPath. Connections are
// opened on first use.
func NewSqliteStore(dbPath string, options ...func(s *SqliteStore)) *SqliteStore {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := SqliteStore{
		dbPath: dbPath,
		now:    time.Now,
		logger: logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadMeta[T any](ctx context.Context, q querier, key string) (*T, error) {
	var raw string
	if err := q.QueryRowContext(ctx, selectMetaSQL, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotCreated
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &v, nil
}

func saveMeta(ctx context.Context, tx *sql.Tx, key string, v any) error {
	p, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if _, err = tx.ExecContext(ctx, upsertMetaSQL, key, string(p)); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Create initialises the store with schema. When the store already exists its schema must be
// compatible with the requested one (same band, data sources and step), otherwise
// ErrSchemaMismatch is returned and nothing is changed. It reports whether the store was
// created by this call.
func (s *SqliteStore) Create(ctx context.Context, schema *Schema) (created bool, err error) {
	if err = schema.Validate(); err != nil {
		return false, err
	}

	db, err := s.getWriteDB()
	if err != nil {
		return false, fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	existing, err := loadMeta[Schema](ctx, tx, metaSchemaKey)
	switch {
	case err == nil:
		return false, existing.compatible(schema)
	case !errors.Is(err, ErrNotCreated):
		return false, err
	}

	start := s.now().Add(-defaultStartOffset)
	if err = saveMeta(ctx, tx, metaSchemaKey, schema); err != nil {
		return false, err
	}
	if err = saveMeta(ctx, tx, metaStateKey, newEngineState(schema, start)); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Info("created round-robin store",
		slog.String("band", schema.Band.String()),
		slog.Duration("step", schema.Step),
		slog.Int("archives", len(schema.Archives)))
	return true, nil
}

// Schema returns the schema the store was created with.
func (s *SqliteStore) Schema(ctx context.Context) (*Schema, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return loadMeta[Schema](ctx, db, metaSchemaKey)
}

// Update records one value per data source at ts, in schema order. NaN is an unknown value.
// Updates must be strictly newer than the last one (ErrStaleUpdate).
func (s *SqliteStore) Update(ctx context.Context, ts time.Time, values ...float64) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	schema, err := loadMeta[Schema](ctx, tx, metaSchemaKey)
	if err != nil {
		return err
	}
	state, err := loadMeta[engineState](ctx, tx, metaStateKey)
	if err != nil {
		return err
	}

	rows, err := state.update(schema, ts.Unix(), values)
	if err != nil {
		return err
	}

	if len(rows) > 0 {
		stmt, pErr := tx.PrepareContext(ctx, upsertRowSQL)
		if pErr != nil {
			return fmt.Errorf("preparing statement: %w", pErr)
		}
		defer closeWithError(stmt, &err)

		for _, row := range rows {
			rowSeconds := unixSeconds(schema.RowDuration(row.archive))
			pos := slot(row.time, rowSeconds, schema.Archives[row.archive].Rows)
			for ds, v := range row.values {
				if _, err = stmt.ExecContext(ctx, row.archive, pos, ds, row.time, toNullFloat(v)); err != nil {
					return fmt.Errorf("writing archive row: %w", err)
				}
			}
		}
	}

	if err = saveMeta(ctx, tx, metaStateKey, state); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("round-robin update", slog.Time("time", ts.UTC()), slog.Int("rows", len(rows)))
	return nil
}

// UpdateRecord applies an update template record such as "N:-95.2:-80.1:15.10".
func (s *SqliteStore) UpdateRecord(ctx context.Context, record string) error {
	ts, values, err := ParseUpdate(record, s.now())
	if err != nil {
		return err
	}
	return s.Update(ctx, ts, values...)
}

// Last returns the time of the most recent update.
func (s *SqliteStore) Last(ctx context.Context) (time.Time, error) {
	db, err := s.getReadDB()
	if err != nil {
		return time.Time{}, fmt.Errorf("getting read connection: %w", err)
	}

	state, err := loadMeta[engineState](ctx, db, metaStateKey)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(state.LastUpdate, 0).UTC(), nil
}

// First returns the end time of the oldest row held by archive a.
func (s *SqliteStore) First(ctx context.Context, a int) (time.Time, error) {
	db, err := s.getReadDB()
	if err != nil {
		return time.Time{}, fmt.Errorf("getting read connection: %w", err)
	}

	var first sql.NullInt64
	if err = db.QueryRowContext(ctx, selectFirstSQL, a).Scan(&first); err != nil {
		return time.Time{}, fmt.Errorf("querying first row: %w", err)
	}
	if !first.Valid {
		return time.Time{}, ErrNoData
	}
	return time.Unix(first.Int64, 0).UTC(), nil
}

// Fetch returns the rows between start and end of the finest archive with consolidation
// function cf whose retention reaches back to start. Rows the archive does not hold, or
// holds as unknown, are NaN.
func (s *SqliteStore) Fetch(ctx context.Context, cf ConsolidationFunction, start, end time.Time) (series *Series, err error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid fetch range %s - %s", start, end)
	}

	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	schema, err := loadMeta[Schema](ctx, db, metaSchemaKey)
	if err != nil {
		return nil, err
	}
	state, err := loadMeta[engineState](ctx, db, metaStateKey)
	if err != nil {
		return nil, err
	}

	a, err := selectArchive(schema, state, cf, start)
	if err != nil {
		return nil, err
	}

	rowSeconds := unixSeconds(schema.RowDuration(a))
	first := alignUp(start.Unix(), rowSeconds)
	last := end.Unix() - end.Unix()%rowSeconds

	series = &Series{
		CF:    cf,
		Start: time.Unix(first, 0).UTC(),
		Step:  schema.RowDuration(a),
		Names: make([]string, len(schema.DataSources)),
	}
	for i, ds := range schema.DataSources {
		series.Names[i] = ds.Name
	}
	if last < first {
		return series, nil
	}

	series.Values = make([][]float64, (last-first)/rowSeconds+1)
	for i := range series.Values {
		series.Values[i] = make([]float64, len(schema.DataSources))
		for j := range series.Values[i] {
			series.Values[i][j] = math.NaN()
		}
	}

	rows, err := db.QueryContext(ctx, selectRowsSQL, a, first, last)
	if err != nil {
		return nil, fmt.Errorf("querying archive rows: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var t int64
		var ds int
		var v sql.NullFloat64
		if err = rows.Scan(&t, &ds, &v); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		if (t-first)%rowSeconds != 0 || ds < 0 || ds >= len(schema.DataSources) {
			continue
		}
		series.Values[(t-first)/rowSeconds][ds] = fromNullFloat(v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archive rows: %w", err)
	}

	return series, nil
}

func selectArchive(schema *Schema, state *engineState, cf ConsolidationFunction, start time.Time) (int, error) {
	best, longest := -1, -1
	for a, arc := range schema.Archives {
		if arc.CF != cf {
			continue
		}

		retention := time.Duration(arc.Rows) * schema.RowDuration(a)
		covers := !time.Unix(state.LastUpdate, 0).Add(-retention).After(start)
		if covers && (best < 0 || schema.RowDuration(a) < schema.RowDuration(best)) {
			best = a
		}
		if longest < 0 || retention > time.Duration(schema.Archives[longest].Rows)*schema.RowDuration(longest) {
			longest = a
		}
	}

	switch {
	case best >= 0:
		return best, nil
	case longest >= 0:
		return longest, nil
	default:
		return -1, fmt.Errorf("no %s archive in store", cf)
	}
}

// Close releases all database connections. It is safe to call Close multiple times.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
