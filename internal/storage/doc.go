// Package storage persists probes, run history, probe results and the
// cadence configuration.
//
// Drivers:
//   - "memory": process-local, nothing survives a restart (default)
//   - "file": dependency-free JSON snapshots + JSON Lines journals
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis": hashes and capped lists on a Redis server
package storage
