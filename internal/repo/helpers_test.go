package repo

import (
	"fmt"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore returns a Store over a unique in-memory database per test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := NewStore(func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		return db, AutoMigrate(db)
	}, SQLiteTransient)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fileOpener opens a migrated on-disk database; reopening sees the same data.
func fileOpener(t *testing.T, hook func(*gorm.DB)) Opener {
	t.Helper()
	path := filepath.Join(t.TempDir(), "videos.db")
	return func() (*gorm.DB, error) {
		db, err := OpenSQLite(path, WithLogger(logger.Default.LogMode(logger.Silent)))
		if err != nil {
			return nil, err
		}
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
		if hook != nil {
			hook(db)
		}
		return db, nil
	}
}
