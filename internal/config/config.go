// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明键名、环境变量与默认值:
//
//	`mapstructure:"port" env:"PORT" default:"8888" min:"1"`
//
// Load() 通过 spf13/viper 按 默认值 → 配置文件 → 环境变量 的顺序合并。
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// 启动期错误码 (pkgerr.AppError.Code)。
const (
	CodeConfig = "CONFIG"
	CodeTLS    = "TLS"
)

// 数据库后端。
const (
	BackendPostgres = "postgres"
	BackendLocalDB  = "localdb"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
)

// Config 应用全局配置。
type Config struct {
	// 服务
	Name string `mapstructure:"name" env:"APP_NAME" default:"wsrpc"`
	Host string `mapstructure:"host" env:"HOST" default:"0.0.0.0"`
	Port int    `mapstructure:"port" env:"PORT" default:"8888"`

	// TLS (证书与私钥必须同时提供或同时缺省)
	PubCert string `mapstructure:"pub_cert" env:"PUB_CERT"`
	PrivKey string `mapstructure:"priv_key" env:"PRIV_KEY"`

	// 传输
	QueueSize       int `mapstructure:"outbound_queue_size" env:"OUTBOUND_QUEUE_SIZE" default:"100" min:"1"`
	MaxMessageBytes int `mapstructure:"max_message_bytes" env:"MAX_MESSAGE_BYTES" default:"4194304" min:"1024"` // 4MB
	WriteTimeoutSec int `mapstructure:"write_timeout_sec" env:"WRITE_TIMEOUT_SEC" default:"10" min:"1"`

	// 日志
	LogLevel string `mapstructure:"log_level" env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `mapstructure:"log_dir" env:"LOG_DIR"`

	// 数据库
	DBBackend           string `mapstructure:"db_backend" env:"DB_BACKEND" default:"postgres"`
	PostgresConnStr     string `mapstructure:"postgres_connection_string" env:"POSTGRES_CONNECTION_STRING"`
	PostgresPoolMinSize int    `mapstructure:"postgres_pool_min_size" env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `mapstructure:"postgres_pool_max_size" env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	LocalDBHost         string `mapstructure:"localdb_host" env:"LOCALDB_HOST" default:"127.0.0.1"`
	LocalDBPort         int    `mapstructure:"localdb_port" env:"LOCALDB_PORT" default:"8889"`
	LocalDBPoolSize     int    `mapstructure:"localdb_pool_size" env:"LOCALDB_POOL_SIZE" default:"4" min:"1"`
	SQLitePath          string `mapstructure:"sqlite_path" env:"SQLITE_PATH" default:"wsrpc.db"`
	MigrationsDir       string `mapstructure:"migrations_dir" env:"MIGRATIONS_DIR"` // 空表示不执行迁移

	// 可观测
	TraceExporter string `mapstructure:"trace_exporter" env:"TRACE_EXPORTER" default:"none"`

	// ID 生成器服务号 (0..3)
	ServiceID int `mapstructure:"service_id" env:"SERVICE_ID" default:"0" min:"0"`
}

// Load 加载配置; path 为空时只使用默认值与环境变量。支持 JSON/YAML/TOML。
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := bindTags(v, reflect.TypeOf(Config{})); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerr.Wrapf(err, "Config.Load", "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pkgerr.Wrap(err, "Config.Load", "decode config")
	}
	applyMin(&cfg)
	return &cfg, nil
}

// bindTags 把 default/env tag 注册到 viper。
func bindTags(v *viper.Viper, t reflect.Type) error {
	for i := range t.NumField() {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if def, ok := field.Tag.Lookup("default"); ok {
			v.SetDefault(key, def)
		}
		if env := field.Tag.Get("env"); env != "" {
			if err := v.BindEnv(key, env); err != nil {
				return pkgerr.Wrapf(err, "Config.Load", "bind env %s", env)
			}
		}
	}
	return nil
}

// applyMin 将低于 min tag 的整型字段 clamp 到下限。
func applyMin(cfg *Config) {
	rv := reflect.ValueOf(cfg).Elem()
	t := rv.Type()
	for i := range t.NumField() {
		minStr, ok := t.Field(i).Tag.Lookup("min")
		if !ok || t.Field(i).Type.Kind() != reflect.Int {
			continue
		}
		lo, err := strconv.Atoi(minStr)
		if err != nil {
			continue
		}
		if fv := rv.Field(i); fv.Int() < int64(lo) {
			logger.Warn("config value below minimum, clamped",
				logger.FieldKey, t.Field(i).Name, "value", fv.Int(), "min", lo)
			fv.SetInt(int64(lo))
		}
	}
}

// Validate 启动期校验; 任何错误都应终止进程。
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if (c.PubCert == "") != (c.PrivKey == "") {
		return pkgerr.WithCode(pkgerr.ErrTLSConfig, op, CodeTLS, "pub_cert and priv_key must be set together")
	}
	if c.Port < 0 || c.Port > 65535 {
		return invalid("port out of range: %d", c.Port)
	}
	switch c.DBBackend {
	case BackendPostgres, BackendLocalDB, BackendSQLite, BackendNone:
	default:
		return invalid("unknown db backend: %q", c.DBBackend)
	}
	if c.DBBackend == BackendLocalDB && (c.LocalDBPort <= 0 || c.LocalDBPort > 65535) {
		return invalid("localdb port out of range: %d", c.LocalDBPort)
	}
	if c.ServiceID < 0 || c.ServiceID > 3 {
		return invalid("service id must be in 0..3, got %d", c.ServiceID)
	}
	switch strings.ToLower(c.TraceExporter) {
	case "", "none", "stdout":
	default:
		return invalid("unknown trace exporter: %q", c.TraceExporter)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return pkgerr.WithCode(errors.Join(pkgerr.ErrInvalidInput, err), op, CodeConfig, "log level")
	}
	if c.PostgresPoolMaxSize < c.PostgresPoolMinSize {
		return invalid("postgres pool max %d < min %d", c.PostgresPoolMaxSize, c.PostgresPoolMinSize)
	}
	return nil
}

// invalid 配置项取值错误。
func invalid(format string, args ...any) error {
	return pkgerr.WithCode(pkgerr.ErrInvalidInput, "Config.Validate", CodeConfig, fmt.Sprintf(format, args...))
}

// UseTLS 是否启用 TLS 监听。
func (c *Config) UseTLS() bool { return c.PubCert != "" && c.PrivKey != "" }

// Addr 监听地址 host:port。
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// LocalDBAddr 本地数据库 WebSocket 地址。
func (c *Config) LocalDBAddr() string { return fmt.Sprintf("%s:%d", c.LocalDBHost, c.LocalDBPort) }
