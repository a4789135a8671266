// Package storage provides the GORM-backed job and artifact store.
//
// This package includes:
//   - GormStore: implements core.JobStore and core.ArtifactStore
//   - Open: connects to SQLite or PostgreSQL by driver name
//   - Pool configuration for the underlying *sql.DB
//
// Status changes are conditional updates, so the stored status only ever
// moves along pending -> processing -> completed|failed.
package storage
