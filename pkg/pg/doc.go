// Package pg connects to PostgreSQL through a pgx pool, applies goose
// migrations, and exposes a healthcheck closure for readiness probes.
package pg
