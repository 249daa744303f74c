package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/glimr-org/postgres"
	"github.com/glimr-org/postgres/logger"
)

// Forever is the expiration value of an entry that never expires.
const Forever int64 = 0

// defaultTable is the table name used when none is configured.
const defaultTable = "cache"

// Cache is a TTL key-value store on one table. All operations check a
// connection out of the pool for their duration; none of them hold state
// between calls, so a Cache is safe for concurrent use.
type Cache struct {
	pool   *postgres.Pool
	table  string
	ident  string // table name quoted for interpolation into SQL
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTable sets the backing table name.
func WithTable(name string) Option {
	return func(c *Cache) { c.table = name }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) { c.logger = log }
}

// WithClock overrides the time source. Tests use this to pin "now".
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache on the given pool. The default table name is "cache".
func New(pool *postgres.Pool, opts ...Option) *Cache {
	if pool == nil {
		panic("pool cannot be nil")
	}
	c := &Cache{
		pool:   pool,
		table:  defaultTable,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ident = pgx.Identifier{c.table}.Sanitize()
	c.logger = c.logger.With(slog.String("component", "cache"))
	return c
}

// Table returns the backing table name.
func (c *Cache) Table() string { return c.table }

// CreateTable creates the backing table if it does not exist. Safe to call
// repeatedly.
func (c *Cache) CreateTable(ctx context.Context) error {
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value TEXT NOT NULL, expiration BIGINT NOT NULL)`,
		c.ident,
	)
	return c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := postgres.Exec(ctx, conn, ddl)
		return err
	})
}

// Get returns the live value stored under key. Entries past their
// expiration are invisible but not deleted; CleanupExpired purges them.
// Returns ErrNotFound when the key is absent or expired.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(
		`SELECT value FROM %s WHERE key = $1 AND (expiration = 0 OR expiration > $2)`,
		c.ident,
	)
	var value string
	err := c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		values, err := postgres.Query(ctx, conn, query,
			[]any{key, c.now().Unix()}, scanString)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return ErrNotFound
		}
		value = values[0]
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// Put stores value under key for the given TTL, replacing any existing
// entry. A zero or negative TTL produces an already-expired entry, which is
// allowed and behaves as absent on reads.
func (c *Cache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.put(ctx, key, value, c.now().Add(ttl).Unix())
}

// PutForever stores value under key with no expiration.
func (c *Cache) PutForever(ctx context.Context, key, value string) error {
	return c.put(ctx, key, value, Forever)
}

// put upserts a row with an explicit absolute expiration.
func (c *Cache) put(ctx context.Context, key, value string, expiration int64) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (key, value, expiration) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expiration = EXCLUDED.expiration`,
		c.ident,
	)
	return c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := postgres.Exec(ctx, conn, query, key, value, expiration)
		return err
	})
}

// Forget deletes the entry under key. Deleting an absent key is not an
// error.
func (c *Cache) Forget(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, c.ident)
	return c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := postgres.Exec(ctx, conn, query, key)
		return err
	})
}

// Has reports whether a live value exists under key.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	_, err := c.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Flush unconditionally deletes every entry, live or expired.
func (c *Cache) Flush(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s`, c.ident)
	return c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := postgres.Exec(ctx, conn, query)
		return err
	})
}

// Pull returns the live value under key and deletes it. The delete is
// best-effort: its failure is logged and swallowed, and the value is still
// returned.
func (c *Cache) Pull(ctx context.Context, key string) (string, error) {
	value, err := c.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if err := c.Forget(ctx, key); err != nil {
		logger.FromContextOrDefault(ctx, c.logger).Warn("failed to forget pulled key",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return value, nil
}

// Increment adds by to the integer stored under key and returns the result.
// An absent key is initialized to by with no expiration. The entry's
// existing expiration is preserved: an increment never resets a counter's
// TTL. A stored value that does not parse as an integer is an
// ErrSerialization.
func (c *Cache) Increment(ctx context.Context, key string, by int64) (int64, error) {
	current, err := c.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		if err := c.PutForever(ctx, key, strconv.FormatInt(by, 10)); err != nil {
			return 0, err
		}
		return by, nil
	}
	if err != nil {
		return 0, err
	}

	parsed, perr := strconv.ParseInt(current, 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("%w: value %q is not an integer", ErrSerialization, current)
	}

	next := parsed + by
	if err := c.put(ctx, key, strconv.FormatInt(next, 10), c.currentExpiration(ctx, key)); err != nil {
		return 0, err
	}
	return next, nil
}

// Decrement subtracts by from the integer stored under key. An absent key
// is initialized to -by with no expiration.
func (c *Cache) Decrement(ctx context.Context, key string, by int64) (int64, error) {
	return c.Increment(ctx, key, -by)
}

// currentExpiration reads the entry's stored expiration, expired or not,
// falling back to Forever when the read fails or the row is gone.
func (c *Cache) currentExpiration(ctx context.Context, key string) int64 {
	query := fmt.Sprintf(`SELECT expiration FROM %s WHERE key = $1`, c.ident)
	expiration := Forever
	err := c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		expirations, err := postgres.Query(ctx, conn, query, []any{key}, scanInt64)
		if err != nil {
			return err
		}
		if len(expirations) > 0 {
			expiration = expirations[0]
		}
		return nil
	})
	if err != nil {
		return Forever
	}
	return expiration
}

// ComputeFn produces a value to cache when a Remember call misses.
type ComputeFn func(ctx context.Context) (string, error)

// Remember returns the live value under key, computing and storing it for
// the given TTL on a miss. A failed compute is an ErrCompute; a failed store
// is logged and swallowed, and the computed value is still returned. Any
// Get failure other than a miss propagates unchanged.
func (c *Cache) Remember(ctx context.Context, key string, ttl time.Duration, compute ComputeFn) (string, error) {
	return c.remember(ctx, key, compute, func(value string) error {
		return c.Put(ctx, key, value, ttl)
	})
}

// RememberForever is Remember with no expiration on the stored value.
func (c *Cache) RememberForever(ctx context.Context, key string, compute ComputeFn) (string, error) {
	return c.remember(ctx, key, compute, func(value string) error {
		return c.PutForever(ctx, key, value)
	})
}

func (c *Cache) remember(ctx context.Context, key string, compute ComputeFn, put func(string) error) (string, error) {
	value, err := c.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	computed, cerr := compute(ctx)
	if cerr != nil {
		return "", fmt.Errorf("%w: %v", ErrCompute, cerr)
	}
	if perr := put(computed); perr != nil {
		logger.FromContextOrDefault(ctx, c.logger).Warn("failed to store remembered value",
			slog.String("key", key),
			slog.String("error", perr.Error()))
	}
	return computed, nil
}

// RememberJSON is Remember for structured values: the stored text is JSON,
// decoded into dest on a hit and produced by compute on a miss. A stored
// value that fails to decode is treated as a miss and recomputed, not
// surfaced as an error.
func (c *Cache) RememberJSON(
	ctx context.Context,
	key string,
	ttl time.Duration,
	dest any,
	compute func(ctx context.Context) (any, error),
) error {
	stored, err := c.Get(ctx, key)
	if err == nil {
		if uerr := json.Unmarshal([]byte(stored), dest); uerr == nil {
			return nil
		}
		// Malformed stored JSON falls through to recomputation.
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	computed, cerr := compute(ctx)
	if cerr != nil {
		return fmt.Errorf("%w: %v", ErrCompute, cerr)
	}
	encoded, merr := json.Marshal(computed)
	if merr != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, merr)
	}
	if perr := c.Put(ctx, key, string(encoded), ttl); perr != nil {
		logger.FromContextOrDefault(ctx, c.logger).Warn("failed to store remembered value",
			slog.String("key", key),
			slog.String("error", perr.Error()))
	}
	return json.Unmarshal(encoded, dest)
}

// CleanupExpired physically deletes entries past their expiration and
// reports how many were removed. Entries that never expire are not touched.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE expiration > 0 AND expiration <= $1`,
		c.ident,
	)
	var removed int64
	err := c.pool.WithConn(ctx, func(conn *sql.Conn) error {
		n, err := postgres.Exec(ctx, conn, query, c.now().Unix())
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func scanString(rows *sql.Rows) (string, error) {
	var v string
	err := rows.Scan(&v)
	return v, err
}

func scanInt64(rows *sql.Rows) (int64, error) {
	var v int64
	err := rows.Scan(&v)
	return v, err
}
