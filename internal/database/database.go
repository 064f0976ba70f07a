// Package database 定义请求处理器使用的查询边界, 以及三种后端:
//
//   - PgClient: PostgreSQL (pgxpool, 裸写 SQL, 不使用 ORM)
//   - LocalClient: 通过 WebSocket 信封协议访问嵌入式本地数据库 (连接池)
//   - SQLiteClient: mattn/go-sqlite3 单文件数据库
//
// 所有后端的错误若携带 SQLSTATE 类错误码, 都实现 SQLState() string,
// 由 rpc 层统一映射为线上错误码。
package database

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/multi-agent/wsrpc/internal/config"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// DB 查询边界。实现必须并发安全且内部池化, 处理器之间不互相阻塞。
type DB interface {
	Query(ctx context.Context, stmt string, args ...any) (Rows, error)
	Close()
}

// Row 一行结果, 列名 → 值。
type Row map[string]any

// Rows 查询结果。
type Rows []Row

// SQLStater 暴露 5 字符 SQLSTATE 的错误 (*pgconn.PgError, *Error)。
type SQLStater interface {
	SQLState() string
}

// Error 携带 SQLSTATE 的数据库错误。
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string    { return e.Code + ": " + e.Message }
func (e *Error) SQLState() string { return e.Code }

// SQLStateOf 沿错误链查找 SQLSTATE。
func SQLStateOf(err error) (string, bool) {
	var s SQLStater
	if errors.As(err, &s) && s.SQLState() != "" {
		return s.SQLState(), true
	}
	return "", false
}

// Open 按配置选择后端; BackendNone 返回 (nil, nil)。
func Open(ctx context.Context, cfg *config.Config) (DB, error) {
	logger.Info("opening database", logger.FieldBackend, cfg.DBBackend)
	switch cfg.DBBackend {
	case config.BackendPostgres:
		return NewPgClient(ctx, cfg)
	case config.BackendLocalDB:
		return NewLocalClient(ctx, cfg.LocalDBAddr(), cfg.LocalDBPoolSize)
	case config.BackendSQLite:
		return NewSQLiteClient(ctx, cfg.SQLitePath)
	case config.BackendNone:
		return nil, nil
	}
	return nil, pkgerr.Newf("Database.Open", "unknown backend %q", cfg.DBBackend)
}

// ========================================
// 结果访问
// ========================================

// First 第一行; 结果为空时返回 ErrRowMissing。
func (rs Rows) First() (Row, error) {
	if len(rs) == 0 {
		return nil, pkgerr.ErrRowMissing
	}
	return rs[0], nil
}

// Int64 读取整型列 (兼容 pgx 整型、JSON 数字、字符串)。
func (r Row) Int64(col string) (int64, error) {
	v, ok := r[col]
	if !ok {
		return 0, fmt.Errorf("column %q: %w", col, pkgerr.ErrRowMissing)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("column %q: non-integer %v", col, n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	}
	return 0, fmt.Errorf("column %q: unexpected type %T", col, v)
}

// String 读取字符串列; UUID 列转为规范文本。
func (r Row) String(col string) (string, error) {
	v, ok := r[col]
	if !ok {
		return "", fmt.Errorf("column %q: %w", col, pkgerr.ErrRowMissing)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case [16]byte:
		return uuid.UUID(s).String(), nil
	case nil:
		return "", nil
	}
	return fmt.Sprint(v), nil
}

// Bytes 读取二进制列。字符串只在 \x 十六进制形式 (bytea 文本格式) 下解码, 其余按原文返回。
func (r Row) Bytes(col string) ([]byte, error) {
	v, ok := r[col]
	if !ok {
		return nil, fmt.Errorf("column %q: %w", col, pkgerr.ErrRowMissing)
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case [16]byte:
		return b[:], nil
	case string:
		if raw, ok := DecodeBytea(b); ok {
			return raw, nil
		}
		return []byte(b), nil
	}
	return nil, fmt.Errorf("column %q: unexpected type %T", col, v)
}

// EncodeBytea 二进制值的 bytea 文本格式: \x + 小写十六进制。
func EncodeBytea(b []byte) string { return `\x` + hex.EncodeToString(b) }

// DecodeBytea EncodeBytea 的逆变换; 非该格式时 ok=false。
func DecodeBytea(s string) ([]byte, bool) {
	rest, ok := strings.CutPrefix(s, `\x`)
	if !ok {
		return nil, false
	}
	raw, err := hex.DecodeString(rest)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Bool 读取布尔列。
func (r Row) Bool(col string) (bool, error) {
	v, ok := r[col]
	if !ok {
		return false, fmt.Errorf("column %q: %w", col, pkgerr.ErrRowMissing)
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("column %q: unexpected type %T", col, v)
}
