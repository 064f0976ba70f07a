// errors.go — 处理器错误到线上 Error 响应的唯一映射点。
//
//	ErrNoResponse          → 不发送任何响应
//	SQLState() 可解码      → 领域错误码 + "Request error log_id=...: <state> <reason> <msg>"
//	SQLState() 不可解码    → 500 内部错误
//	*CustomError           → 原样透传 code/reason
//	其他                   → 500 "Internal error: log_id=...", 详情只写服务端日志
package rpc

import (
	"errors"
	"fmt"

	"github.com/multi-agent/wsrpc/internal/database"
	"github.com/multi-agent/wsrpc/internal/protocol"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// ErrNoResponse 处理器已通过其他途径满足请求, 不再发送终结响应。
var ErrNoResponse = errors.New("no response")

// CustomError 业务错误, code/reason 原样返回给客户端; Err 为服务端可见的原因, 不上线。
type CustomError struct {
	Code   protocol.ErrorCode
	Reason string
	Err    error
}

func (e *CustomError) Error() string { return e.Reason }

func (e *CustomError) Unwrap() error { return e.Err }

// WithCause 返回附带原因的副本。
func (e *CustomError) WithCause(err error) *CustomError {
	c := *e
	c.Err = err
	return &c
}

// NewCustomError 构造业务错误。
func NewCustomError(code protocol.ErrorCode, reason string) *CustomError {
	return &CustomError{Code: code, Reason: reason}
}

// Errorf 格式化构造业务错误。
func Errorf(code protocol.ErrorCode, format string, args ...any) *CustomError {
	return &CustomError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// errorFromSQLState 按 36 进制解码 SQLSTATE; reason 格式 "<state> <canonical> <msg>"。
func errorFromSQLState(state string, err error) (*CustomError, error) {
	code, decodeErr := protocol.FromSQLState(state)
	if decodeErr != nil {
		return nil, decodeErr
	}
	canonical, _ := code.CanonicalReason()
	return &CustomError{Code: code, Reason: fmt.Sprintf("%s %s %s", state, canonical, err)}, nil
}

// errorResponseFor 把任意错误映射为一条 Error 响应; ok=false 表示不响应。
func errorResponseFor(ctx RequestContext, err error) (protocol.Response, bool) {
	if errors.Is(err, ErrNoResponse) {
		return protocol.Response{}, false
	}
	if state, ok := database.SQLStateOf(err); ok {
		custom, decodeErr := errorFromSQLState(state, err)
		if decodeErr != nil {
			return internalErrorResponse(ctx, protocol.CodeInternal, err), true
		}
		return requestErrorResponse(ctx, custom.Code, custom), true
	}
	var custom *CustomError
	if errors.As(err, &custom) {
		logger.Debug("request error",
			logger.FieldConn, ctx.ConnectionID,
			logger.FieldMethod, ctx.Method,
			logger.FieldSeq, ctx.Seq,
			logger.FieldLogID, ctx.LogID,
			logger.FieldCode, custom.Code,
			logger.FieldReason, custom.Reason,
		)
		return protocol.NewError(ctx.Method, custom.Code, ctx.Seq, custom.Reason), true
	}
	return internalErrorResponse(ctx, protocol.CodeInternal, err), true
}

// requestErrorResponse 客户端错误: reason 带 log_id 与错误文本, Debug 级别记录。
func requestErrorResponse(ctx RequestContext, code protocol.ErrorCode, err error) protocol.Response {
	logger.Debug("request error",
		logger.FieldConn, ctx.ConnectionID,
		logger.FieldMethod, ctx.Method,
		logger.FieldSeq, ctx.Seq,
		logger.FieldLogID, ctx.LogID,
		logger.FieldCode, code,
		logger.FieldError, err,
	)
	return protocol.NewError(ctx.Method, code, ctx.Seq,
		fmt.Sprintf("Request error log_id=%d: %s", ctx.LogID, err))
}

// internalErrorResponse 内部错误: 客户端只看到 log_id, 详情 Error 级别记录。
func internalErrorResponse(ctx RequestContext, code protocol.ErrorCode, err error) protocol.Response {
	logger.Error("internal error",
		logger.FieldConn, ctx.ConnectionID,
		logger.FieldMethod, ctx.Method,
		logger.FieldSeq, ctx.Seq,
		logger.FieldLogID, ctx.LogID,
		logger.FieldError, err,
	)
	return protocol.NewError(ctx.Method, code, ctx.Seq,
		fmt.Sprintf("Internal error: log_id=%d", ctx.LogID))
}
