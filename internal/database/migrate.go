// migrate.go — 启动期按文件名顺序执行 SQL 脚本 (例如存储过程定义), schema_version 表记录已执行版本。
package database

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// Migrator 支持在单个事务内执行多语句脚本并登记版本的后端 (PgClient、SQLiteClient)。
type Migrator interface {
	DB
	ApplyMigration(ctx context.Context, version, script string) error
}

const createSchemaVersion = `CREATE TABLE IF NOT EXISTS schema_version (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// Migrate 执行 dir 下尚未登记的 .sql 文件, 返回本次执行的个数。目录不存在时跳过。
func Migrate(ctx context.Context, db Migrator, dir string) (int, error) {
	const op = "Database.Migrate"
	if db == nil {
		return 0, pkgerr.Wrap(pkgerr.ErrNotInitialized, op, "database is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no migrations directory found, skipping", logger.FieldPath, dir)
			return 0, nil
		}
		return 0, pkgerr.Wrap(err, op, "read migrations dir")
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Query(ctx, createSchemaVersion); err != nil {
		return 0, pkgerr.Wrap(err, op, "create schema_version table")
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, pkgerr.Wrap(err, op, "query schema_version")
	}

	n := 0
	for _, name := range files {
		if applied[name] {
			continue
		}
		script, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return n, pkgerr.Wrapf(err, op, "read migration %s", name)
		}
		if err := db.ApplyMigration(ctx, name, string(script)); err != nil {
			return n, pkgerr.Wrapf(err, op, "apply migration %s", name)
		}
		logger.Info("migration applied", logger.FieldVersion, name)
		n++
	}
	if n > 0 {
		logger.Info("migrations completed", logger.FieldCount, n)
	}
	return n, nil
}

func appliedVersions(ctx context.Context, db DB) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(rows))
	for _, row := range rows {
		v, err := row.String("version")
		if err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, nil
}
