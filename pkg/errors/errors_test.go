// errors_test.go — 验证 AppError / Wrap / Wrapf / CodeOf 的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap(ErrInvalidHeader, "Auth.ParseHeader", "missing method field")

	if !errors.Is(wrapped, ErrInvalidHeader) {
		t.Errorf("errors.Is(wrapped, ErrInvalidHeader) = false, want true")
	}
	if errors.Is(wrapped, ErrConnClosed) {
		t.Errorf("errors.Is(wrapped, ErrConnClosed) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Auth.ParseHeader" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Auth.ParseHeader")
	}
	if appErr.Message != "missing method field" {
		t.Errorf("Message = %q, want %q", appErr.Message, "missing method field")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	wrapped := Wrap(io.ErrUnexpectedEOF, "Server.recvLoop", "read frame")

	s := wrapped.Error()
	for _, want := range []string{"Server.recvLoop", "read frame", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

// TestWrapfFormat 验证 Wrapf 格式化消息。
func TestWrapfFormat(t *testing.T) {
	wrapped := Wrapf(ErrInvalidInput, "Config.Validate", "port %d out of range", 70000)

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(appErr.Message, "port 70000 out of range") {
		t.Errorf("Message = %q", appErr.Message)
	}
}

// TestNewWithoutCause 验证 New 创建无 cause 的错误。
func TestNewWithoutCause(t *testing.T) {
	err := New("Server.Listen", "no listener")
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
}

// TestCodeOf 验证 CodeOf 穿透多层包装找到第一个非空 Code。
func TestCodeOf(t *testing.T) {
	inner := WithCode(ErrTLSConfig, "Server.loadTLS", "TLS_LOAD", "load key pair")
	outer := Wrap(inner, "Server.Listen", "startup")

	if got := CodeOf(outer); got != "TLS_LOAD" {
		t.Errorf("CodeOf = %q, want TLS_LOAD", got)
	}
	if got := CodeOf(io.EOF); got != "" {
		t.Errorf("CodeOf(io.EOF) = %q, want empty", got)
	}
	if !errors.Is(outer, ErrTLSConfig) {
		t.Error("errors.Is(outer, ErrTLSConfig) = false after double wrap")
	}
}
