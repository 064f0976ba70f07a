package database

import (
	"context"
	"database/sql"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// SQLiteClient 单文件数据库后端 (database/sql + go-sqlite3)。
//
// 触发器中 RAISE(ABORT, 'R0007: unknown user') 形式的消息会被还原为 *Error,
// 与 PostgreSQL 存储过程的 SQLSTATE 走同一条映射路径。
type SQLiteClient struct {
	db *sql.DB
}

// NewSQLiteClient 打开 (必要时创建) 数据库文件; path 为 ":memory:" 时使用内存库。
func NewSQLiteClient(ctx context.Context, path string) (*SQLiteClient, error) {
	const op = "Database.NewSQLiteClient"
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "open sqlite")
	}
	if path == ":memory:" {
		// 内存库每个连接独立, 必须固定为单连接
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, pkgerr.Wrap(err, op, "ping sqlite")
	}
	logger.Info("sqlite opened", logger.FieldPath, path)
	return &SQLiteClient{db: db}, nil
}

// Query 执行语句并按列名收集所有行; 非查询语句返回空结果。
func (c *SQLiteClient) Query(ctx context.Context, stmt string, args ...any) (Rows, error) {
	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, translateSQLiteError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out Rows
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, translateSQLiteError(err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, translateSQLiteError(rows.Err())
}

// ApplyMigration 在一个事务内执行多语句脚本并登记版本。
func (c *SQLiteClient) ApplyMigration(ctx context.Context, version, script string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, script); err != nil {
		return translateSQLiteError(err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return translateSQLiteError(err)
	}
	return tx.Commit()
}

// Close 关闭数据库。
func (c *SQLiteClient) Close() {
	if err := c.db.Close(); err != nil {
		logger.Warn("sqlite close failed", logger.FieldError, err)
	}
}

var raisedState = regexp.MustCompile(`^([0-9A-Z]{5}):\s*(.*)$`)

// translateSQLiteError 把 "R0007: msg" 形式的约束错误转为 *Error。
func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if m := raisedState.FindStringSubmatch(err.Error()); m != nil {
		return &Error{Code: m[1], Message: m[2]}
	}
	return err
}
