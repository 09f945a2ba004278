// Package database provides GORM-backed connection pool management with
// health checking and transactional execution.
//
// PoolManager wraps a *gorm.DB and its underlying *sql.DB, owning pool
// sizing, idle reclamation, and lifecycle. WithTransaction is the single
// entry point the dispatch core uses to combine conditional updates into
// one atomic unit; WithTransactionRetry adds exponential backoff for
// transient failures (deadlocks, serialization conflicts, dropped
// connections).
//
// This package is internal and should not be imported by external projects.
package database
