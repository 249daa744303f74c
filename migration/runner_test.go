package migration

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimr-org/postgres"
)

const recordVersionSQL = `INSERT INTO "schema_migrations" (version) VALUES ($1)`

func newTestRunner(t *testing.T, opts ...Option) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	pool := postgres.NewPoolFromDB(db, 1, nil)
	t.Cleanup(func() { _ = pool.Stop() })
	return NewRunner(pool, opts...), mock
}

func TestEnsureTable(t *testing.T) {
	r, mock := newTestRunner(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "schema_migrations"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.EnsureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplied_OrderedAscending(t *testing.T) {
	r, mock := newTestRunner(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM "schema_migrations" ORDER BY version ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).
			AddRow("001").
			AddRow("002"))

	applied, err := r.Applied(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, applied)
}

func TestApplied_EmptyTable(t *testing.T) {
	r, mock := newTestRunner(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM "schema_migrations"`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	applied, err := r.Applied(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, applied)
	assert.Empty(t, applied)
}

func TestApplyPending_EmptyListTouchesNothing(t *testing.T) {
	r, mock := newTestRunner(t)

	applied, err := r.ApplyPending(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, applied)
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPending_AppliesEachMigrationTransactionally(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE users (id INT)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX users_id ON users (id)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(recordVersionSQL)).
		WithArgs("001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE cache")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(recordVersionSQL)).
		WithArgs("002").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := r.ApplyPending(context.Background(), []Migration{
		{
			Version: "001",
			Name:    "users",
			SQL:     "CREATE TABLE users (id INT);\nCREATE INDEX users_id ON users (id);",
		},
		{
			Version: "002",
			Name:    "cache",
			SQL:     "CREATE TABLE cache (key TEXT PRIMARY KEY, value TEXT NOT NULL, expiration BIGINT NOT NULL)",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPending_FirstFailureAbortsBatch(t *testing.T) {
	r, mock := newTestRunner(t)

	// A applies and is recorded.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(recordVersionSQL)).
		WithArgs("001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// B fails mid-transaction and rolls back; its version is not recorded
	// and C is never attempted.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLEE b")).
		WillReturnError(&mockSyntaxError{})
	mock.ExpectRollback()

	applied, err := r.ApplyPending(context.Background(), []Migration{
		{Version: "001", Name: "a", SQL: "CREATE TABLE a (id INT)"},
		{Version: "002", Name: "b", SQL: "CREATE TABLEE b (id INT)"},
		{Version: "003", Name: "c", SQL: "CREATE TABLE c (id INT)"},
	})

	require.Error(t, err)
	assert.Equal(t, []string{"001"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPending_RecordFailureRollsBackMigration(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(recordVersionSQL)).
		WithArgs("001").
		WillReturnError(&mockSyntaxError{})
	mock.ExpectRollback()

	applied, err := r.ApplyPending(context.Background(), []Migration{
		{Version: "001", Name: "a", SQL: "CREATE TABLE a (id INT)"},
	})

	require.Error(t, err)
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunner_CustomTableAndSeparator(t *testing.T) {
	r, mock := newTestRunner(t, WithTable("app_migrations"), WithSeparator("--;;"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO a VALUES (1)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "app_migrations" (version) VALUES ($1)`)).
		WithArgs("001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := r.ApplyPending(context.Background(), []Migration{
		{Version: "001", SQL: "CREATE TABLE a (id INT)\n--;;\nINSERT INTO a VALUES (1)"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// mockSyntaxError stands in for a driver-level SQL failure. Its message
// deliberately avoids the contention markers so the runner's transaction is
// not retried.
type mockSyntaxError struct{}

func (e *mockSyntaxError) Error() string { return "syntax error at or near \"TABLEE\"" }
