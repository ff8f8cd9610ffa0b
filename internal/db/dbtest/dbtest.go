// Package dbtest provides migrated throwaway databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stockroom/apiserver/internal/db"
	"github.com/stretchr/testify/require"
)

// SQLite opens a migrated SQLite database in a temporary directory. It is
// closed when the test finishes.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stockroom.db")
	conn, err := db.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.Migrate(conn, "sqlite"))
	return conn
}
