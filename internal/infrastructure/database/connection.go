// Package database opens the embedded sqlite catalog store and owns its
// schema migrations and backup procedure. Every process opens its own
// connection; WAL journaling makes concurrent readers plus one writer safe.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"warden/internal/infrastructure/config"
	"warden/internal/shared/logger"
)

// DB wraps the catalog database connection.
type DB struct {
	gorm *gorm.DB
	path string
	log  logger.Interface

	stopBackup func()
}

// Open connects to the catalog database, enabling write-ahead journaling
// and foreign key enforcement, and applies pending migrations.
func Open(cfg *config.DatabaseConfig, log logger.Interface) (*DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", cfg.Path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer at a time; a single underlying connection
	// avoids SQLITE_BUSY churn between gorm's pooled connections.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := migrateUp(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	d := &DB{gorm: db, path: cfg.Path, log: log}
	log.Debugw("database connection established", "path", cfg.Path)
	return d, nil
}

// Gorm returns the underlying gorm handle.
func (d *DB) Gorm() *gorm.DB {
	return d.gorm
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// Size returns the database size in bytes.
func (d *DB) Size() (int64, error) {
	var size int64
	err := d.gorm.Raw(
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()",
	).Scan(&size).Error
	return size, err
}

// Close stops the backup procedure and closes the connection.
func (d *DB) Close() error {
	d.StopBackup()
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// timestampSuffix is the default backup file suffix.
func timestampSuffix(now time.Time) string {
	return now.UTC().Format(".20060102150405.bak")
}
