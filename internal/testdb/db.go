// Package testdb provides utilities specifically for database testing.
// It maintains a clean dependency structure by only depending on store
// interfaces and standard database packages, not on specific implementations.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scribe/migrations"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// IsIntegrationTestEnvironment returns true if a test database URL is
// configured, indicating that integration tests can be run.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDatabaseURL returns the database URL for tests.
// It checks SCRIBE_TEST_DATABASE_URL and DATABASE_URL environment variables
// in that order, returning the first non-empty value.
func GetTestDatabaseURL() string {
	dbURL := os.Getenv("SCRIBE_TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	return dbURL
}

// Connect opens the test database, runs the embedded migrations, and
// truncates the records table so each test starts from a clean slate.
// Tests calling Connect must not run in parallel with each other; they
// share one physical table.
func Connect(t *testing.T) *sql.DB {
	t.Helper()

	url := GetTestDatabaseURL()
	if url == "" {
		t.Skip("SCRIBE_TEST_DATABASE_URL not set; skipping integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Failed to ping test database")

	// Run the embedded migrations.
	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"), "Failed to set goose dialect")
	require.NoError(t, goose.Up(db, "."), "Failed to run migrations")

	_, err = db.ExecContext(ctx, "TRUNCATE records")
	require.NoError(t, err, "Failed to truncate records table")

	return db
}
