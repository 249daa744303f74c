package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// Registers the "pgx" driver with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pingTimeout bounds the connectivity check performed by Open.
const pingTimeout = 5 * time.Second

// Pool owns a bounded set of database connections and hands them out one
// caller at a time. It wraps database/sql's pool, capping both open and idle
// connections at the configured size so that at most PoolSize connections
// ever exist. A connection obtained through Checkout is loaned exclusively
// to that caller until its release function runs.
type Pool struct {
	db     *sql.DB
	size   int
	logger *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

// Open validates the config, establishes the pool and verifies connectivity
// with a bounded ping. A config destined for a different engine fails here,
// before any connection is attempted. If logger is nil, the default logger
// is used.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	size := cfg.size()
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database pool established",
		slog.Int("pool_size", size))

	return newPool(db, size, logger), nil
}

// NewPoolFromDB wraps an already-open *sql.DB in a Pool, applying the size
// cap to it. The pool takes ownership of the handle; Stop closes it. This is
// the seam used by tests and by callers that configure database/sql
// themselves.
func NewPoolFromDB(db *sql.DB, size int, logger *slog.Logger) *Pool {
	if db == nil {
		panic("db cannot be nil")
	}
	if size <= 0 {
		size = defaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	return newPool(db, size, logger)
}

func newPool(db *sql.DB, size int, logger *slog.Logger) *Pool {
	return &Pool{
		db:     db,
		size:   size,
		logger: logger.With(slog.String("component", "pool")),
	}
}

// Size returns the configured maximum number of connections.
func (p *Pool) Size() int { return p.size }

// DB exposes the underlying handle for callers that want database/sql's own
// pooled semantics rather than an exclusive checkout.
func (p *Pool) DB() *sql.DB { return p.db }

// Checkout borrows one connection for exclusive use, blocking until a
// connection is available. The returned release function puts the connection
// back; it is safe to call exactly once and must be called on every path,
// normally via defer. Most callers should prefer WithConn, which pairs the
// two automatically.
func (p *Pool) Checkout(ctx context.Context) (*sql.Conn, func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("connection checkout failed: %w", err)
	}
	release := func() {
		if err := conn.Close(); err != nil {
			p.logger.Warn("failed to release connection",
				slog.String("error", err.Error()))
		}
	}
	return conn, release, nil
}

// WithConn checks a connection out, runs fn with it, and releases it on
// every exit path, including a panic inside fn. It returns fn's result.
// A checkout failure is returned as-is: no connection means there is no
// query context to attach a mapped error to, and callers treat it as a
// terminal fault rather than a transient database condition.
func (p *Pool) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, release, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(conn)
}

// Stop terminates the pool and its connections. It is idempotent; further
// checkouts after Stop are undefined and must not be attempted.
func (p *Pool) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.db.Close()
		p.logger.Info("database pool stopped")
	})
	return p.stopErr
}
