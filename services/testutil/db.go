package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory sqlite database with the given models
// migrated. The pool holds a single connection, so transactions never
// overlap.
func NewTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	return open(t, "file:"+t.Name()+"?mode=memory&cache=shared", 1, models)
}

// NewConcurrentTestDB opens a file backed sqlite database that several
// connections use at once. Transactions start with BEGIN IMMEDIATE, the
// closest sqlite gets to the row lock postgres takes for SELECT ... FOR
// UPDATE: a second writer waits on busy_timeout instead of reading a
// snapshot it can no longer commit against.
func NewConcurrentTestDB(t *testing.T, conns int, models ...any) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	return open(t, "file:"+path+"?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate", conns, models)
}

func open(t *testing.T, dsn string, conns int, models []any) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...), "migrate test database")
	}
	return db
}
