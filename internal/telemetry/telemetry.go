// Package telemetry OpenTelemetry 链路追踪初始化与请求级 span 辅助函数。
//
// 导出器: "stdout" (开发调试) / "none" (保持全局 no-op provider)。
package telemetry

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

const instrumentationName = "github.com/multi-agent/wsrpc"

// Options 追踪配置。
type Options struct {
	Exporter    string    // none | stdout
	ServiceName string    // resource service.name
	Version     string    // resource service.version
	Writer      io.Writer // stdout 导出器输出位置, 默认 os.Stdout
}

// ShutdownFunc 刷新并关闭 provider。
type ShutdownFunc func(context.Context) error

// Setup 安装全局 TracerProvider; 返回的 ShutdownFunc 必须在退出前调用。
func Setup(opts Options) (ShutdownFunc, error) {
	const op = "Telemetry.Setup"
	switch strings.ToLower(opts.Exporter) {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
	default:
		return nil, pkgerr.Newf(op, "unsupported exporter type: %s", opts.Exporter)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "create stdout exporter")
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(opts.ServiceName),
		semconv.ServiceVersionKey.String(opts.Version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("tracing enabled", "exporter", opts.Exporter)
	return tp.Shutdown, nil
}

// Tracer 当前全局 provider 下的 tracer。
func Tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// StartRequest 为一次 RPC 请求开启 span。
func StartRequest(ctx context.Context, connID, method, seq uint32, logID uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "rpc.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("rpc.conn_id", int64(connID)),
			attribute.Int64("rpc.method", int64(method)),
			attribute.Int64("rpc.seq", int64(seq)),
			attribute.String("rpc.log_id", strconv.FormatUint(logID, 10)),
		),
	)
}

// EndRequest 结束 span; err 非 nil 时记录错误状态。
func EndRequest(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
