package db

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) the console database and applies the
// schema. The console is a single-writer process, so the pool is pinned
// to one connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := MigrateUp(gdb); err != nil {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

// MigrateUp creates/updates tables and indexes from models.
func MigrateUp(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&ChatMessage{},
		&WorklogEntry{},
		&ScheduledEntry{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_created_at ON chat_messages(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_worklog_entries_created_at ON worklog_entries(created_at DESC);`,
	} {
		if err := gdb.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
