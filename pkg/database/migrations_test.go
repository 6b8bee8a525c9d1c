package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DSN(t *testing.T) {
	dsn := Config{Path: "/tmp/ledger.db"}.DSN()
	assert.Contains(t, dsn, "file:/tmp/ledger.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_foreign_keys=on")
	assert.Contains(t, dsn, "_busy_timeout=5000")
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	applied, err := m.Up()
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = m.Up()
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	versions, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.True(t, versions[1])

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'batch_outcomes'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrator_RunMigrations_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	fsys := fstest.MapFS{
		"sql/002_add_column.sql": {Data: []byte("ALTER TABLE widgets ADD COLUMN size INTEGER;")},
		"sql/001_widgets.sql":    {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")},
		"sql/README.md":          {Data: []byte("ignored")},
	}

	applied, err := m.RunMigrations(fsys, "sql")
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	_, err = db.Exec("INSERT INTO widgets (id, size) VALUES (1, 3)")
	assert.NoError(t, err)
}

func TestMigrator_RunMigrations_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	fsys := fstest.MapFS{
		"sql/001_broken.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); NOT VALID SQL;")},
	}

	_, err := m.RunMigrations(fsys, "sql")
	require.Error(t, err)

	versions, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.False(t, versions[1])
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{
		"sql/initial.sql": {Data: []byte("SELECT 1;")},
	}, "sql")
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{
		"sql/001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/001_b.sql": {Data: []byte("SELECT 1;")},
	}, "sql")
	assert.Error(t, err)
}
