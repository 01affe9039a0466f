// Package sqltest gives each test its own isolated vault database,
// adapted from btcwallet/internal/sqltest's per-test sqlite/postgres
// factory pair down to this project's single store.Open entry point.
package sqltest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moneymikec/mSIGNA/store"
)

// NewSQLiteDB opens a fresh, file-backed vault database in a temporary
// directory unique to t, already migrated by store.Open, and arranges
// for it to be closed when t finishes.
func NewSQLiteDB(t testing.TB) *store.DB {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vault.sqlite")
	dsn := "file:" + dbPath + "?mode=rwc&_fk=1"

	db, err := store.Open("sqlite", dsn)
	require.NoError(t, err, "open sqlite vault database")

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(dbPath)
	})
	return db
}
