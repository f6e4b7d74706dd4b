package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"warden/internal/shared/fmtutil"
)

// Backup writes an online copy of the database next to the original under
// a "backup" directory. VACUUM INTO performs a page copy plus compaction
// in one statement and, under WAL, does not block concurrent writers.
// When suffix is empty a UTC timestamp suffix is used.
func (d *DB) Backup(suffix string) error {
	if suffix == "" {
		suffix = timestampSuffix(time.Now())
	}

	backupDir := filepath.Join(filepath.Dir(d.path), "backup")
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := filepath.Base(d.path) + suffix
	target := filepath.Join(backupDir, name)
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace previous backup: %w", err)
	}

	if err := d.gorm.Exec("VACUUM INTO ?", target).Error; err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}

	if size, err := d.Size(); err == nil {
		if info, err := os.Stat(target); err == nil && size > info.Size() {
			d.log.Debugw("database backup file is created",
				"name", name,
				"reduced_by", fmtutil.Size(size-info.Size()),
			)
			return nil
		}
	}
	d.log.Debugw("database backup file is created", "name", name)
	return nil
}

// StartBackup launches the periodic backup procedure. It is a no-op when
// the interval is not positive.
func (d *DB) StartBackup(interval time.Duration) {
	if interval <= 0 {
		d.log.Debugw("the database backup procedure is disabled")
		return
	}
	if d.stopBackup != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.stopBackup = cancel
	go func() {
		d.log.Infow("the database backup procedure is started")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := d.Backup(""); err != nil {
					d.log.Errorw("periodic database backup failed", "error", err)
				}
			case <-ctx.Done():
				d.log.Infow("the database backup procedure is stopped")
				return
			}
		}
	}()
}

// StopBackup cancels the periodic backup procedure if it is running.
func (d *DB) StopBackup() {
	if d.stopBackup != nil {
		d.stopBackup()
		d.stopBackup = nil
	}
}
