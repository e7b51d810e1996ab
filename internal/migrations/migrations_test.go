package migrations

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	runner := NewRunner()
	runner.openDB = func(dsn string) (*sql.DB, error) { return db, nil }

	return runner, mock
}

func expectBookkeeping(mock sqlmock.Sqlmock, category string, applied ...string) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range applied {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT name FROM schema_migrations").
		WithArgs(category).
		WillReturnRows(rows)
}

func expectFileApplied(mock sqlmock.Sqlmock, contentPattern, name, category string) {
	mock.ExpectBegin()
	mock.ExpectExec(contentPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(name, category).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestMigrateToLatestAppliesEmbeddedChain(t *testing.T) {
	runner, mock := newMockRunner(t)

	expectBookkeeping(mock, StandardCategory)
	expectFileApplied(mock, "CREATE TABLE IF NOT EXISTS app_users", "0001_base.sql", StandardCategory)
	expectFileApplied(mock, "CREATE TABLE IF NOT EXISTS app_sessions", "0002_sessions.sql", StandardCategory)

	err := runner.MigrateToLatest(context.Background(), "postgres://ignored")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateToLatestSkipsAppliedFiles(t *testing.T) {
	runner, mock := newMockRunner(t)

	expectBookkeeping(mock, StandardCategory, "0001_base.sql")
	expectFileApplied(mock, "CREATE TABLE IF NOT EXISTS app_sessions", "0002_sessions.sql", StandardCategory)

	err := runner.MigrateToLatest(context.Background(), "postgres://ignored")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDirRunsFilesInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_second.sql"), []byte("ALTER TABLE things ADD COLUMN b INT;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_first.sql"), []byte("CREATE TABLE things ();"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not sql"), 0o644))

	runner, mock := newMockRunner(t)

	expectBookkeeping(mock, "billing")
	expectFileApplied(mock, "CREATE TABLE things", "0001_first.sql", "billing")
	expectFileApplied(mock, "ALTER TABLE things", "0002_second.sql", "billing")

	err := runner.ApplyDir(context.Background(), "postgres://ignored", dir, "billing")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDirRollsBackFailedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_bad.sql"), []byte("CREATE BROKEN"), 0o644))

	runner, mock := newMockRunner(t)

	expectBookkeeping(mock, "billing")
	mock.ExpectBegin()
	mock.ExpectExec("CREATE BROKEN").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := runner.ApplyDir(context.Background(), "postgres://ignored", dir, "billing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_bad.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDirMissingDirectory(t *testing.T) {
	runner, _ := newMockRunner(t)

	err := runner.ApplyDir(context.Background(), "postgres://ignored",
		filepath.Join(t.TempDir(), "nope"), "billing")
	assert.Error(t, err)
}

func TestHasScripts(t *testing.T) {
	dir := t.TempDir()

	has, err := HasScripts(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, has)

	has, err = HasScripts(dir)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	has, err = HasScripts(dir)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_init.sql"), []byte("SELECT 1;"), 0o644))
	has, err = HasScripts(dir)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestAcquireLockAndRelease(t *testing.T) {
	runner, mock := newMockRunner(t)

	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := runner.AcquireLock(context.Background(), "postgres://ignored", 42)
	require.NoError(t, err)
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}
