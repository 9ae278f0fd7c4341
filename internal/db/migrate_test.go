// Package db tests for database migration management.
package db

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
)

// =====================================================
// Engine Tests (mocked migrator)
// =====================================================

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error {
	return m.Called().Error(0)
}

func (m *mockMigrator) Steps(n int) error {
	return m.Called(n).Error(0)
}

func (m *mockMigrator) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *mockMigrator) Close() (error, error) {
	args := m.Called()
	return args.Error(0), args.Error(1)
}

func engineFor(m Migrator) MigrationEngine {
	return func(*DB, source.Driver) (Migrator, error) {
		return m, nil
	}
}

func fakeDB() *DB {
	return &DB{Dialect: DialectSQLite, DSN: "unused.db"}
}

// TestMigration_Up_NoChange verifies ErrNoChange is not an error.
func TestMigration_Up_NoChange(t *testing.T) {
	m := new(mockMigrator)
	m.On("Up").Return(migrate.ErrNoChange)
	m.On("Close").Return(nil, nil)

	err := NewMigration(fakeDB(), engineFor(m)).Up()

	assert.NoError(t, err)
	m.AssertExpectations(t)
}

// TestMigration_Up_Error verifies failures carry the migration code.
func TestMigration_Up_Error(t *testing.T) {
	m := new(mockMigrator)
	m.On("Up").Return(stderrors.New("syntax error"))
	m.On("Close").Return(nil, nil)

	err := NewMigration(fakeDB(), engineFor(m)).Up()

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMigration))
	m.AssertExpectations(t)
}

// TestMigration_Up_CloseError verifies close failures are reported.
func TestMigration_Up_CloseError(t *testing.T) {
	m := new(mockMigrator)
	m.On("Up").Return(nil)
	m.On("Close").Return(nil, stderrors.New("db close failed"))

	err := NewMigration(fakeDB(), engineFor(m)).Up()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db close failed")
}

// TestMigration_EngineError verifies engine construction failures.
func TestMigration_EngineError(t *testing.T) {
	engine := func(*DB, source.Driver) (Migrator, error) {
		return nil, stderrors.New("connection refused")
	}

	err := NewMigration(fakeDB(), engine).Up()

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMigration))
}

// TestMigration_Down verifies Down steps back once.
func TestMigration_Down(t *testing.T) {
	m := new(mockMigrator)
	m.On("Steps", -1).Return(nil)
	m.On("Close").Return(nil, nil)

	require.NoError(t, NewMigration(fakeDB(), engineFor(m)).Down())
	m.AssertExpectations(t)
}

// TestDatabaseURL verifies DSN conversion.
func TestDatabaseURL(t *testing.T) {
	got, err := DatabaseURL(DialectSQLite, "/var/lib/pagesync/pagesync.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/pagesync/pagesync.db", got)

	got, err = DatabaseURL(DialectPostgres, "postgres://u:p@localhost:5432/pagesync?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://u:p@localhost:5432/pagesync?sslmode=disable", got)

	got, err = DatabaseURL(DialectPostgres, "postgresql://localhost/pagesync")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://localhost/pagesync", got)

	_, err = DatabaseURL(DialectSQLite, ":memory:")
	assert.Error(t, err)

	_, err = DatabaseURL(DialectPostgres, "host=localhost")
	assert.Error(t, err)
}

// =====================================================
// Real sqlite migrations
// =====================================================

// TestMigrate_sqliteFile verifies the embedded migrations apply and roll back.
func TestMigrate_sqliteFile(t *testing.T) {
	db, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "pagesync.db"))
	require.NoError(t, err)
	defer db.Close()

	mg := NewMigration(db, nil)
	require.NoError(t, mg.Up())
	require.NoError(t, mg.Up(), "second Up should be a no-op")

	version, dirty, err := mg.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{TableSyncStatus, TableSyncRetries, TableItems, TableSubscriptions, TableConflictLog} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s missing", table)
	}

	require.NoError(t, mg.Down())
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sync_status'").Scan(&count))
	assert.Equal(t, 0, count)
}

// TestMigrate_sqliteMemory verifies an in-memory database is migrated in place
// and stays open.
func TestMigrate_sqliteMemory(t *testing.T) {
	db, err := Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	require.NoError(t, db.Ping())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sync_status").Scan(&count))
	assert.Equal(t, 0, count)
}
