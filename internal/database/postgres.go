package database

import (
	"context"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/wsrpc/internal/config"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// PgClient PostgreSQL 后端。pgxpool 内部池化, 可在处理器之间共享。
//
// 存储过程抛出的领域错误以 *pgconn.PgError 原样返回, 其 SQLState() 由 rpc 层解码。
type PgClient struct {
	pool *pgxpool.Pool
}

// NewPgClient 创建连接池并 Ping 验证。
func NewPgClient(ctx context.Context, cfg *config.Config) (*PgClient, error) {
	const op = "Database.NewPgClient"
	if cfg.PostgresConnStr == "" {
		return nil, pkgerr.New(op, "POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "parse postgres config")
	}
	poolCfg.MinConns = safeInt32(cfg.PostgresPoolMinSize, "PostgresPoolMinSize")
	poolCfg.MaxConns = safeInt32(cfg.PostgresPoolMaxSize, "PostgresPoolMaxSize")

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerr.Wrap(err, op, "ping postgres")
	}

	logger.Info("postgres pool created",
		"min_conns", cfg.PostgresPoolMinSize,
		"max_conns", cfg.PostgresPoolMaxSize,
	)
	return &PgClient{pool: pool}, nil
}

// Query 执行语句并按列名收集所有行。
func (c *PgClient) Query(ctx context.Context, stmt string, args ...any) (Rows, error) {
	rows, err := c.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out Rows
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ApplyMigration 在一个事务内执行脚本并登记版本。无参数 Exec 走简单协议, 允许多语句。
func (c *PgClient) ApplyMigration(ctx context.Context, version, script string) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, script); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Close 关闭连接池。
func (c *PgClient) Close() { c.pool.Close() }

// safeInt32 将 int 安全转为 int32，超出范围时 clamp 并记录警告。
func safeInt32(v int, name string) int32 {
	if v > math.MaxInt32 {
		logger.Warn("pool config overflow, clamped to MaxInt32", logger.FieldName, name, "value", v)
		return math.MaxInt32
	}
	if v < 0 {
		logger.Warn("pool config negative, clamped to 0", logger.FieldName, name, "value", v)
		return 0
	}
	return int32(v)
}
