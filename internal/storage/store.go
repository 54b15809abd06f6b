package storage

import (
	"context"
	"time"
)

// Store provides the write side of a round-robin time-series store. Every update is
// atomic: either all archive rows and the consolidation state are written, or none.
type Store interface {
	// Create initialises the store with a schema, or validates the schema of an existing store.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - schema: Step, data sources, archives and frequency band of the store
	//
	// Returns:
	//   - created: true when the store did not exist before
	//   - error: ErrSchemaMismatch if an existing store has a different band or data sources
	Create(ctx context.Context, schema *Schema) (created bool, err error)

	// Update records one value per data source. NaN marks a value as unknown.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - ts: Time of the update, must be after the last update
	//   - values: One value per data source, in schema order
	//
	// Returns:
	//   - error: ErrStaleUpdate, ErrNotCreated or an I/O error
	Update(ctx context.Context, ts time.Time, values ...float64) error

	// UpdateRecord applies an update template record such as "N:-95.2:-80.1:15.10" or
	// "1767225600:U:U:U". Values are stored with the precision of the record.
	//
	// Returns:
	//   - error: ErrInvalidUpdate, or any error of Update
	UpdateRecord(ctx context.Context, record string) error

	// Last returns the time of the most recent update.
	Last(ctx context.Context) (time.Time, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}

// Reader provides the read side of a round-robin store.
type Reader interface {
	// Schema returns the schema the store was created with.
	Schema(ctx context.Context) (*Schema, error)

	// Fetch returns consolidated rows between start and end from the finest archive with
	// consolidation function cf whose retention covers start.
	Fetch(ctx context.Context, cf ConsolidationFunction, start, end time.Time) (*Series, error)

	// Last returns the time of the most recent update.
	Last(ctx context.Context) (time.Time, error)

	Close() error
}

var (
	_ Store  = (*SqliteStore)(nil)
	_ Reader = (*SqliteStore)(nil)
)
