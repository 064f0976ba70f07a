// Package logger 提供基于 slog 的结构化日志。
//
// 核心功能:
//   - Init() 按级别配置默认日志器 (off/trace/debug/info/warn/error)
//   - InitWithFile() 同时输出到 stdout 和滚动日志文件 (lumberjack)
//   - FromContext() 上下文感知日志 (请求级 conn/method/seq/log_id)
//   - 包级便捷方法 (Info/Error/Warn/Debug/Fatal)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

// LevelTrace 比 Debug 更细的级别 (帧级别日志)。
const LevelTrace = slog.Level(-8)

// levelOff 高于任何实际级别, 用于关闭输出。
const levelOff = slog.Level(64)

var (
	// defaultLogger 使用 atomic.Pointer 保证并发安全。
	defaultLogger atomic.Pointer[slog.Logger]

	rotator   *lumberjack.Logger // 滚动日志文件, Shutdown 时关闭
	rotatorMu sync.Mutex

	// utc8 固定 UTC+8 时区, 日志时间统一按此时区显示。
	utc8 = time.FixedZone("UTC+8", 8*60*60)
)

func init() { defaultLogger.Store(newLogger(os.Stdout, slog.LevelInfo, false)) }

func getLogger() *slog.Logger { return defaultLogger.Load() }

// storeLogger 原子存储默认日志器并同步 slog.SetDefault。
func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// replaceTimeAttr 将时间强制转为 UTC+8, 并把 trace 级别显示为 TRACE。
func replaceTimeAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.In(utc8).Format("2006-01-02 15:04:05.000"))
		}
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func newLogger(w io.Writer, level slog.Level, text bool) *slog.Logger {
	if level >= levelOff {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelOff}))
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: replaceTimeAttr,
	}
	if text {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel 解析日志级别 (大小写不敏感)。
//
// 接受: off / trace / debug / info / warn / error。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return levelOff, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, pkgerr.Newf("Logger.ParseLevel", "invalid log level: %s", s)
}

// Init 初始化日志配置。
//
// debug/trace 级别使用 Text 输出到 stderr (开发期), 其余级别使用 JSON 输出到 stdout。
func Init(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if lvl <= slog.LevelDebug {
		storeLogger(newLogger(os.Stderr, lvl, true))
	} else {
		storeLogger(newLogger(os.Stdout, lvl, false))
	}
	return nil
}

// InitWithFile 初始化日志, 同时输出到 stdout 和滚动日志文件。
//
// 日志文件: {logDir}/{name}.log (JSON, 50MB 滚动, 保留 7 份)。
// 调用者应在退出前调用 ShutdownFileHandler() 关闭文件。
func InitWithFile(level, logDir, name string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return pkgerr.Wrap(err, "Logger.InitWithFile", "create log dir")
	}
	if name == "" {
		name = "wsrpc"
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("%s.log", name))

	r := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // MB
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	}
	rotatorMu.Lock()
	if rotator != nil {
		_ = rotator.Close()
	}
	rotator = r
	rotatorMu.Unlock()

	storeLogger(newLogger(io.MultiWriter(os.Stdout, r), lvl, false))
	getLogger().Info("log file opened", FieldPath, logPath)
	return nil
}

// ShutdownFileHandler 关闭日志文件 (并发安全)。
func ShutdownFileHandler() {
	rotatorMu.Lock()
	defer rotatorMu.Unlock()
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
}

// ========================================
// Context 感知日志
// ========================================

type ctxKey struct{}

// WithContext 将日志器注入 context。
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 从 context 提取日志器，若不存在则返回默认日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return getLogger()
}

// ========================================
// 包级便捷方法
// ========================================

// Info/Error/Warn/Debug 记录结构化日志。args 为 key-value 对。
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Trace 记录帧级别日志。
func Trace(msg string, args ...any) {
	getLogger().Log(context.Background(), LevelTrace, msg, args...)
}

// Fatal 记录致命错误并退出。
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	os.Exit(1)
}

// With 返回带附加上下文的日志器。
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get 返回底层 slog.Logger。
func Get() *slog.Logger { return getLogger() }

// Any 创建任意类型属性。
func Any(key string, value any) slog.Attr { return slog.Any(key, value) }

// 预留字段常量 — MUST 使用常量键名，勿硬编码。
const (
	FieldError     = "error"
	FieldComponent = "component"
	FieldPath      = "path"
	FieldAddr      = "addr"
	FieldRemote    = "remote"
	FieldConn      = "conn"
	FieldMethod    = "method"
	FieldSeq       = "seq"
	FieldLogID     = "log_id"
	FieldUserID    = "user_id"
	FieldRole      = "role"
	FieldCode      = "code"
	FieldReason    = "reason"
	FieldName      = "name"
	FieldResource  = "resource"
	FieldKey       = "key"
	FieldCount     = "count"
	FieldDropped   = "dropped"
	FieldLen       = "len"
	FieldBackend   = "backend"
	FieldTLS       = "tls"
	FieldVersion   = "version"
	FieldLatencyMS = "latency_ms"
)
