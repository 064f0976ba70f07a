// safego.go — 安全 goroutine 启动器，捕获 panic 防止进程崩溃。
package util

import (
	"fmt"
	"runtime/debug"

	"github.com/multi-agent/wsrpc/pkg/logger"
)

// SafeGo 在新 goroutine 中安全执行 fn，捕获 panic 并记录日志 + 堆栈。
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					logger.FieldError, r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}

// Recover 在当前 goroutine 中执行 fn, 把 panic 转换为 error 返回。
//
// 供 errgroup 等需要错误返回值的调用方使用。
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				logger.FieldError, r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
