package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/glimr-org/postgres/store"
)

// ScanFunc decodes one row of a result set into a value of type T. The
// function must call rows.Scan exactly once and must not advance the cursor.
type ScanFunc[T any] func(rows *sql.Rows) (T, error)

// Query executes a parameterized query and decodes every returned row with
// scan. Parameters bind positionally ($1, $2, ...). An empty result set is
// a non-nil empty slice, never an error. Driver failures come back mapped
// into the store taxonomy; a scan failure is a store.ErrDecode.
func Query[T any](ctx context.Context, db store.DBTX, query string, args []any, scan ScanFunc[T]) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	results := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrDecode, err)
		}
		results = append(results, v)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return results, nil
}

// Exec executes a statement that returns no decodable rows and reports the
// number of rows it affected. Driver failures come back mapped into the
// store taxonomy.
func Exec(ctx context.Context, db store.DBTX, query string, args ...any) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, MapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}
	return affected, nil
}
