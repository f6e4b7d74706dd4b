package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/infrastructure/config"
	"warden/internal/shared/logger"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "warden.db"),
	}
	db, err := Open(cfg, logger.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_RunsMigrations(t *testing.T) {
	db := setupDB(t)

	var tables []string
	err := db.Gorm().
		Raw("SELECT name FROM sqlite_master WHERE type = 'table'").
		Scan(&tables).Error
	require.NoError(t, err)
	assert.Contains(t, tables, "users")
	assert.Contains(t, tables, "reserved_plans")
	assert.Contains(t, tables, "history")
}

func TestDB_Size(t *testing.T) {
	db := setupDB(t)

	size, err := db.Size()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestDB_Backup(t *testing.T) {
	db := setupDB(t)
	backupDir := filepath.Join(filepath.Dir(db.Path()), "backup")

	t.Run("with explicit suffix", func(t *testing.T) {
		require.NoError(t, db.Backup(".test.bak"))
		target := filepath.Join(backupDir, filepath.Base(db.Path())+".test.bak")
		info, err := os.Stat(target)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))

		// A second run replaces the previous file.
		require.NoError(t, db.Backup(".test.bak"))
	})

	t.Run("default timestamp suffix", func(t *testing.T) {
		require.NoError(t, db.Backup(""))
		entries, err := os.ReadDir(backupDir)
		require.NoError(t, err)

		var stamped int
		for _, entry := range entries {
			if filepath.Ext(entry.Name()) == ".bak" {
				stamped++
			}
		}
		assert.GreaterOrEqual(t, stamped, 2)
	})
}

func TestDB_PeriodicBackupLifecycle(t *testing.T) {
	db := setupDB(t)

	// Not positive, the procedure never starts.
	db.StartBackup(0)
	assert.Nil(t, db.stopBackup)

	db.StartBackup(time.Hour)
	assert.NotNil(t, db.stopBackup)
	db.StopBackup()
	assert.Nil(t, db.stopBackup)
}

func TestTimestampSuffix(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	assert.Equal(t, ".20240501123045.bak", timestampSuffix(now))
}
