// Package storage persists the operator audit trail (toggle commands and
// scheduled toggles) and the history of sleep episodes.
//
// Drivers:
//   - "file": JSON Lines files next to each other, no dependencies
//   - "sqlite": a single SQLite database (modernc.org/sqlite, pure Go)
package storage
