package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/glimr-org/postgres"
	"github.com/glimr-org/postgres/logger"
)

// defaultTable is the version-tracking table used when none is configured.
const defaultTable = "schema_migrations"

// defaultSeparator splits a migration body into sequential statements.
const defaultSeparator = ";"

// Runner applies pending migrations against a pool, one migration per
// transaction, and records each applied version in the tracking table.
type Runner struct {
	pool      *postgres.Pool
	table     string
	ident     string // tracking table quoted for interpolation into SQL
	separator string
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTable sets the version-tracking table name.
func WithTable(name string) Option {
	return func(r *Runner) { r.table = name }
}

// WithSeparator sets the statement separator migration bodies are split on.
func WithSeparator(sep string) Option {
	return func(r *Runner) { r.separator = sep }
}

// WithLogger sets the logger used for progress reporting.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) { r.logger = log }
}

// NewRunner creates a Runner on the given pool. The default tracking table
// is "schema_migrations" and the default statement separator is ";".
func NewRunner(pool *postgres.Pool, opts ...Option) *Runner {
	if pool == nil {
		panic("pool cannot be nil")
	}
	r := &Runner{
		pool:      pool,
		table:     defaultTable,
		separator: defaultSeparator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ident = pgx.Identifier{r.table}.Sanitize()
	r.logger = r.logger.With(slog.String("component", "migration_runner"))
	return r
}

// EnsureTable creates the version-tracking table if it does not exist.
// Safe to call repeatedly.
func (r *Runner) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version TEXT PRIMARY KEY, applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`,
		r.ident,
	)
	return r.pool.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := postgres.Exec(ctx, conn, ddl)
		return err
	})
}

// Applied returns the recorded versions, ordered by version ascending.
func (r *Runner) Applied(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT version FROM %s ORDER BY version ASC`, r.ident)
	var versions []string
	err := r.pool.WithConn(ctx, func(conn *sql.Conn) error {
		var qerr error
		versions, qerr = postgres.Query(ctx, conn, query, nil, scanVersion)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// ApplyPending applies each migration in order, inside its own transaction:
// the body's statements and the version record commit or roll back together.
// The first failing migration aborts the batch; its version is not recorded,
// later migrations are not attempted, and migrations already applied in the
// batch stay applied. Returns the versions applied by this call. An empty
// list returns immediately without touching the database.
func (r *Runner) ApplyPending(ctx context.Context, migrations []Migration) ([]string, error) {
	applied := []string{}
	if len(migrations) == 0 {
		return applied, nil
	}

	log := logger.FromContextOrDefault(ctx, r.logger)
	record := fmt.Sprintf(`INSERT INTO %s (version) VALUES ($1)`, r.ident)

	for _, m := range migrations {
		err := postgres.RunInTransaction(ctx, r.pool, 0, func(ctx context.Context, tx *sql.Tx) error {
			for _, stmt := range splitStatements(m.SQL, r.separator) {
				if _, err := postgres.Exec(ctx, tx, stmt); err != nil {
					return err
				}
			}
			_, err := postgres.Exec(ctx, tx, record, m.Version)
			return err
		})
		if err != nil {
			log.Error("migration failed",
				slog.String("version", m.Version),
				slog.String("name", m.Name),
				slog.String("error", err.Error()))
			return applied, err
		}
		applied = append(applied, m.Version)
		log.Info("migration applied",
			slog.String("version", m.Version),
			slog.String("name", m.Name))
	}
	return applied, nil
}

// splitStatements splits a migration body on the separator, trimming
// whitespace and dropping empty fragments.
func splitStatements(body, separator string) []string {
	parts := strings.Split(body, separator)
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func scanVersion(rows *sql.Rows) (string, error) {
	var v string
	err := rows.Scan(&v)
	return v, err
}
