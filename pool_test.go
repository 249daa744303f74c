package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newMockPool returns a size-bounded pool over a sqlmock database.
func newMockPool(t *testing.T, size int) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	pool := NewPoolFromDB(db, size, nil)
	t.Cleanup(func() { _ = pool.Stop() })
	return pool, mock
}

func TestNewPoolFromDB_NilDBPanics(t *testing.T) {
	assert.Panics(t, func() { NewPoolFromDB(nil, 1, nil) })
}

func TestCheckout_LoansAndReleases(t *testing.T) {
	pool, _ := newMockPool(t, 1)

	conn, release, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	release()

	// The released connection is available again.
	conn2, release2, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn2)
	release2()
}

func TestCheckout_Exclusivity(t *testing.T) {
	pool, _ := newMockPool(t, 1)

	_, release, err := pool.Checkout(context.Background())
	require.NoError(t, err)

	// With the single connection loaned out, a second checkout must block
	// until the first is released.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = pool.Checkout(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	conn, release2, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	release2()
}

func TestCheckout_AtMostNConcurrent(t *testing.T) {
	const size = 4
	const callers = 32
	pool, _ := newMockPool(t, size)

	var current, peak atomic.Int64
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			return pool.WithConn(context.Background(), func(conn *sql.Conn) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int64(size))
	assert.Equal(t, int64(0), current.Load())
}

func TestWithConn_ReleasesOnSuccess(t *testing.T) {
	pool, _ := newMockPool(t, 1)

	err := pool.WithConn(context.Background(), func(conn *sql.Conn) error {
		return nil
	})
	require.NoError(t, err)

	// The connection must be back: another scoped call succeeds immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, pool.WithConn(ctx, func(conn *sql.Conn) error { return nil }))
}

func TestWithConn_ReleasesOnError(t *testing.T) {
	pool, _ := newMockPool(t, 1)

	bodyErr := errors.New("body failed")
	err := pool.WithConn(context.Background(), func(conn *sql.Conn) error {
		return bodyErr
	})
	assert.Equal(t, bodyErr, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, pool.WithConn(ctx, func(conn *sql.Conn) error { return nil }))
}

func TestWithConn_ReleasesOnPanic(t *testing.T) {
	pool, _ := newMockPool(t, 1)

	assert.Panics(t, func() {
		_ = pool.WithConn(context.Background(), func(conn *sql.Conn) error {
			panic("boom")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, pool.WithConn(ctx, func(conn *sql.Conn) error { return nil }))
}

func TestWithConn_CheckoutFailureIsTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()
	pool := NewPoolFromDB(db, 1, nil)
	require.NoError(t, pool.Stop())

	called := false
	err = pool.WithConn(context.Background(), func(conn *sql.Conn) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "body must not run without a connection")
	assert.Contains(t, err.Error(), "checkout")
}

func TestStop_Idempotent(t *testing.T) {
	pool, mock := newMockPool(t, 2)

	mock.ExpectClose()
	require.NoError(t, pool.Stop())
	require.NoError(t, pool.Stop())
}

func TestPoolSize(t *testing.T) {
	pool, _ := newMockPool(t, 7)
	assert.Equal(t, 7, pool.Size())
}
