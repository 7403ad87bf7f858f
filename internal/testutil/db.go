// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"slack-intake-go/internal/db"
)

// NewDB returns a migrated SQLite database private to the test
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "intake.db")
	conn, err := db.Open(sqlite.Open(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)))
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(conn))
	return conn
}
