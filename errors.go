package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/glimr-org/postgres/store"
)

// PostgreSQL error codes and classes.
const (
	// integrityViolationClass is the two-character class prefix shared by
	// every integrity constraint violation (unique, foreign key, not null,
	// check, exclusion).
	integrityViolationClass = "23"

	// uniqueViolationCode is the code for unique constraint violations.
	uniqueViolationCode = "23505"

	// queryCanceledCode is reported when a statement is canceled, including
	// by statement_timeout.
	queryCanceledCode = "57014"
)

// MapError maps a native driver error to the store taxonomy. It is the
// single translation boundary: every component runs its database errors
// through here (via Query and Exec) and no higher layer ever inspects
// pgconn types directly. A nil error maps to nil.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	// Already mapped errors pass through untouched so double mapping is
	// harmless.
	if store.IsConnectionError(err) || store.IsQueryError(err) ||
		store.IsDecodeError(err) || store.IsTimeoutError(err) ||
		store.IsConstraintError(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return store.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return store.ErrTimeout
	}

	if errors.Is(err, driver.ErrBadConn) {
		return store.NewConnectionError(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == queryCanceledCode:
			return store.ErrTimeout
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == integrityViolationClass:
			return store.NewConstraintError(pgErr.Message, pgErr.ConstraintName, err)
		default:
			return store.NewQueryError(pgErr.Message, err)
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return store.NewConnectionError(err)
	}

	return store.NewQueryError(err.Error(), err)
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique
// constraint violation, before or after mapping.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
