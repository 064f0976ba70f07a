package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

func writeMigration(t *testing.T, dir, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o644))
}

func TestMigrateAppliesPendingInOrder(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeMigration(t, dir, "002_seed.sql", `INSERT INTO users (username) VALUES ('alice');
INSERT INTO users (username) VALUES ('bob');`)
	writeMigration(t, dir, "001_users.sql", `CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL);
CREATE TRIGGER users_guard BEFORE INSERT ON users
	WHEN NEW.username = 'root' BEGIN SELECT RAISE(ABORT, 'R0008: blocked user'); END;`)
	writeMigration(t, dir, "README.md", "not a migration")

	n, err := Migrate(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := db.Query(ctx, `SELECT username FROM users ORDER BY id`)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// 已登记的版本不再执行
	n, err = Migrate(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	writeMigration(t, dir, "003_more.sql", `INSERT INTO users (username) VALUES ('carol');`)
	n, err = Migrate(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	versions, err := appliedVersions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"001_users.sql": true, "002_seed.sql": true, "003_more.sql": true}, versions)
}

func TestMigrateFailureIsNotRecorded(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeMigration(t, dir, "001_users.sql", `CREATE TABLE users (username TEXT);
CREATE TRIGGER users_guard BEFORE INSERT ON users
	WHEN NEW.username = 'root' BEGIN SELECT RAISE(ABORT, 'R0008: blocked user'); END;`)
	writeMigration(t, dir, "002_bad.sql", `INSERT INTO users (username) VALUES ('ok');
INSERT INTO users (username) VALUES ('root');`)

	n, err := Migrate(ctx, db, dir)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	state, ok := SQLStateOf(err)
	require.True(t, ok)
	assert.Equal(t, "R0008", state)

	versions, err := appliedVersions(ctx, db)
	require.NoError(t, err)
	assert.False(t, versions["002_bad.sql"])
	rows, err := db.Query(ctx, `SELECT username FROM users`)
	require.NoError(t, err)
	assert.Empty(t, rows, "failed script must roll back")
}

func TestMigrateMissingDirSkips(t *testing.T) {
	db := openSQLite(t)
	n, err := Migrate(context.Background(), db, filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = Migrate(context.Background(), nil, "migrations")
	assert.ErrorIs(t, err, pkgerr.ErrNotInitialized)
}
