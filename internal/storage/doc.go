// Package storage persists the compensation journal: one record per
// compensation stage (registered, started, completed, failed), so undo
// failures swallowed under the best-effort policy can be found and repaired
// later.
//
// Drivers:
//   - "file": JSON Lines, no dependencies
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
package storage
