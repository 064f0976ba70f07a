package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

// LogLevel Log 响应的级别, 线上格式为字符串。
type LogLevel string

const (
	LogOff   LogLevel = "Off"
	LogTrace LogLevel = "Trace"
	LogDebug LogLevel = "Debug"
	LogInfo  LogLevel = "Info"
	LogWarn  LogLevel = "Warn"
	LogError LogLevel = "Error"
)

// ParseLogLevel 大小写不敏感地解析级别名。
func ParseLogLevel(s string) (LogLevel, error) {
	for _, lvl := range []LogLevel{LogOff, LogTrace, LogDebug, LogInfo, LogWarn, LogError} {
		if strings.EqualFold(s, string(lvl)) {
			return lvl, nil
		}
	}
	return "", pkgerr.Newf("Protocol.ParseLogLevel", "unknown log level: %q", s)
}

// UnmarshalJSON 拒绝未知级别。
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	lvl, err := ParseLogLevel(s)
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// Slog 映射到 slog 级别; Off 返回 false。
func (l LogLevel) Slog() (slog.Level, bool) {
	switch l {
	case LogTrace:
		return slog.Level(-8), true
	case LogDebug:
		return slog.LevelDebug, true
	case LogInfo:
		return slog.LevelInfo, true
	case LogWarn:
		return slog.LevelWarn, true
	case LogError:
		return slog.LevelError, true
	}
	return 0, false
}
