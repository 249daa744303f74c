package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glimr-org/postgres/logger"
	"github.com/glimr-org/postgres/store"
)

// retryBaseDelay is the unit of the linear backoff between transaction
// attempts. The wait before a retry is retryBaseDelay multiplied by the
// number of retries still remaining, so the longest wait comes first.
const retryBaseDelay = 50 * time.Millisecond

// contentionMarkers are matched, case-insensitively, against a failure's
// message to decide whether the whole transaction should be retried.
// Message matching is a known fragile heuristic (the wording depends on
// server version and locale), kept because the driver does not surface a
// structured code on every path this layer sees.
var contentionMarkers = []string{"deadlock", "lock", "serialization"}

// TxFn is a function that executes within a database transaction.
// It receives the context and a transaction, and returns an error if the
// operation fails. The transaction is committed if the function returns nil,
// or rolled back if it returns an error.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction executes fn inside BEGIN/COMMIT on a connection checked
// out from the pool. If fn or the commit fails, the transaction is rolled
// back; when the failure looks like lock contention and retries remain, the
// whole cycle (checkout, begin, fn, commit) restarts on a freshly
// checked-out connection after a linear backoff. maxRetries bounds the
// number of restarts, so fn runs at most maxRetries+1 times. A negative
// maxRetries is rejected before fn ever runs.
func RunInTransaction(ctx context.Context, pool *Pool, maxRetries int, fn TxFn) error {
	if maxRetries < 0 {
		return fmt.Errorf("%w: Transaction retries cannot be negative", store.ErrConnection)
	}

	log := logger.FromContext(ctx)

	for remaining := maxRetries; ; remaining-- {
		err, retryable := runAttempt(ctx, pool, fn, log)
		if err == nil {
			return nil
		}
		if !retryable || remaining <= 0 || !isContentionError(err) {
			return err
		}

		backoff := retryBaseDelay * time.Duration(remaining)
		log.Debug("retrying transaction after contention",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
			slog.Int("retries_remaining", remaining))
		time.Sleep(backoff)
	}
}

// runAttempt runs one full checkout/begin/fn/commit cycle. The second return
// reports whether the failure may enter the retry decision: checkout and
// begin failures never do.
func runAttempt(
	ctx context.Context,
	pool *Pool,
	fn TxFn,
	log *slog.Logger,
) (err error, retryable bool) {
	conn, release, err := pool.Checkout(ctx)
	if err != nil {
		// No connection means no transaction context at all; surfaced
		// unmapped as a terminal fault.
		return err, false
	}
	defer release()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction",
			slog.String("error", err.Error()))
		return MapError(err), false
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to roll back transaction after panic",
					slog.String("error", rbErr.Error()),
					slog.Any("panic", p))
			} else {
				log.Error("rolled back transaction after panic",
					slog.Any("panic", p))
			}
			// Re-panic to maintain the behavior
			// ALLOW-PANIC: Propagating caught panic from transaction
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn("failed to roll back transaction",
				slog.String("rollback_error", rbErr.Error()),
				slog.String("original_error", err.Error()))
		}
		return err, true
	}

	if err := tx.Commit(); err != nil {
		// Rollback after a failed commit is best-effort; its result is
		// discarded in favor of the commit error.
		_ = tx.Rollback()
		log.Error("failed to commit transaction",
			slog.String("error", err.Error()))
		return MapError(err), true
	}

	log.Debug("transaction committed successfully")
	return nil, true
}

// isContentionError reports whether the error message indicates that another
// transaction held a conflicting lock (deadlock, lock wait, or serialization
// failure).
func isContentionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range contentionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
