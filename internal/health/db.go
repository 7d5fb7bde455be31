// Package health provides liveness checks for the service's external
// dependencies, consumed by the readiness probe.
package health

import (
	"context"
	"database/sql"
)

// DBChecker reports whether the participant directory's database is
// reachable.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker wraps an open connection pool.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database. The caller bounds the wait via ctx.
func (c *DBChecker) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
