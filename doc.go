// Package postgres provides the PostgreSQL-specific layer of the data-access
// stack: pool configuration and lifecycle, scoped connection checkout, the
// translation of native pgx errors into the store taxonomy, a generic query
// executor, and transactional execution with bounded retry on deadlocks.
// It handles the details of the underlying driver so that the cache and
// migration packages never touch native error types or connection state.
package postgres
