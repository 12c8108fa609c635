package main

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"

	"fadeout/internal/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	scripts, err := migrations.GetSchemaScripts()
	require.NoError(t, err)

	var out bytes.Buffer
	applied, err := applyMigrations(db, scripts, false, &out)
	require.NoError(t, err)
	assert.Equal(t, len(scripts), applied)

	var tables int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('messages', 'message_archive')",
	).Scan(&tables))
	assert.Equal(t, 2, tables)

	// Second run is a no-op
	out.Reset()
	applied, err = applyMigrations(db, scripts, false, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Contains(t, out.String(), "already applied")
}

func TestApplyMigrations_DryRun(t *testing.T) {
	db := openTestDB(t)
	scripts, err := migrations.GetSchemaScripts()
	require.NoError(t, err)

	var out bytes.Buffer
	pending, err := applyMigrations(db, scripts, true, &out)
	require.NoError(t, err)
	assert.Equal(t, len(scripts), pending)
	assert.Contains(t, out.String(), "Pending: "+scripts[0].Name)

	var tables int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'messages'").Scan(&tables))
	assert.Equal(t, 0, tables)
}

func TestApplyMigrations_FailedScriptRollsBack(t *testing.T) {
	db := openTestDB(t)
	scripts := []migrations.Script{
		{Name: "001_ok.sql", SQL: "CREATE TABLE ok_table (id TEXT);"},
		{Name: "002_bad.sql", SQL: "CREATE TABLE broken (;"},
	}

	applied, err := applyMigrations(db, scripts, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_bad.sql")
	assert.Equal(t, 1, applied)

	var recorded int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&recorded))
	assert.Equal(t, 1, recorded)
}
