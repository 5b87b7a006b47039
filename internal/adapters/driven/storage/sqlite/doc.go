// Package sqlite persists documents and chunks in SQLite.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. Chunk vectors are not stored here; they live in the
// vector index.
//
// # Schema
//
// The schema is managed through versioned migrations embedded from the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql
// files and only the up files are applied.
//
// # Data Location
//
// By default, the database is stored at ~/.mizan/data/metadata.db
//
// # Thread Safety
//
// All operations are safe for concurrent use. The store relies on the
// locking SQLite provides in WAL mode.
package sqlite
