package storage

import (
	_ "embed"
)

const (
	metaSchemaKey = "schema"
	metaStateKey  = "state"

	selectMetaSQL = `
SELECT value
FROM meta
WHERE
    key = ?`

	upsertMetaSQL = `
INSERT INTO meta (key, value)
VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`

	upsertRowSQL = `
INSERT INTO archive_rows (archive,
                          slot,
                          ds,
                          time,
                          value)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (archive, slot, ds) DO UPDATE SET time  = excluded.time,
                                              value = excluded.value`

	selectRowsSQL = `
SELECT time,
       ds,
       value
FROM archive_rows
WHERE
    archive = ?
    AND time >= ?
    AND time <= ?
ORDER BY time, ds`

	selectFirstSQL = `
SELECT MIN(time)
FROM archive_rows
WHERE
    archive = ?`
)

//go:embed schema.sql
var schemaSQL string
