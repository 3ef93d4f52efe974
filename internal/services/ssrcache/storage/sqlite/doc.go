// Package sqlite reads HTML snapshots from a SQLite database.
//
// The snapshot table is owned by the rendering pipeline; this adapter only
// reads it. Expiry is stored as unix milliseconds in an INTEGER column.
package sqlite
