// Package errors 提供统一错误类型与哨兵错误。
//
// 两层错误体系:
//   - L1 哨兵错误: ErrNotInitialized / ErrInvalidHeader / ErrConnClosed 等
//   - L2 AppError: 带 Op + Code + Message 的内部错误, 只用于日志与启动阶段
//
// 发给客户端的错误不走本包, 统一由 rpc 包的错误映射转换为 wire 层 Error 响应。
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotInitialized 依赖未初始化 (例如数据库句柄), 属于编程错误
	ErrNotInitialized = errors.New("not initialized")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidHeader Sec-WebSocket-Protocol 鉴权头格式错误
	ErrInvalidHeader = errors.New("invalid auth header")

	// ErrUnauthorized 鉴权失败
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("connection closed")

	// ErrQueueFull 出站队列已满
	ErrQueueFull = errors.New("outbound queue full")

	// ErrTLSConfig TLS 证书配置错误 (启动期致命)
	ErrTLSConfig = errors.New("tls config")

	// ErrRowMissing 数据库查询未返回预期行
	ErrRowMissing = errors.New("row missing")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Server.Listen"
	Code    string // 错误码，如 "DB_ERROR"、"CONFIG"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 包装错误并附加错误码。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// CodeOf 返回错误链上第一个 AppError 的 Code, 无则返回空串。
func CodeOf(err error) string {
	var appErr *AppError
	for errors.As(err, &appErr) {
		if appErr.Code != "" {
			return appErr.Code
		}
		err = appErr.Err
		if err == nil {
			break
		}
	}
	return ""
}
