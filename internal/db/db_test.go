package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-intake-go/internal/config"
	"slack-intake-go/internal/model"
)

func TestDialector(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Path: "x.db"})
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}

	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestInitSQLite(t *testing.T) {
	conn, err := Init(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "init.db"),
	})
	require.NoError(t, err)

	for _, m := range model.All() {
		assert.True(t, conn.Migrator().HasTable(m))
	}
	assert.False(t, SupportsRowLocks(conn))

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Close())
}
