// Package tracing 负责初始化 OpenTelemetry TracerProvider。
// 未配置 TraceExporter 时使用全局 no-op provider，span 调用不产生开销。
package tracing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/offline-hub/internal/config"
)

// InstrumentationName 是所有 span 使用的 tracer 名称。
const InstrumentationName = "github.com/any-hub/offline-hub"

// ShutdownFunc 刷新并关闭 exporter。
type ShutdownFunc func(context.Context) error

// Init 根据全局配置安装 TracerProvider，并返回关闭函数。
func Init(global config.GlobalConfig) (trace.TracerProvider, ShutdownFunc, error) {
	return initWithWriter(global, os.Stdout)
}

func initWithWriter(global config.GlobalConfig, w io.Writer) (trace.TracerProvider, ShutdownFunc, error) {
	switch global.TraceExporter {
	case "":
		return otel.GetTracerProvider(), func(context.Context) error { return nil }, nil
	case config.TraceExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		return tp, tp.Shutdown, nil
	default:
		return nil, nil, fmt.Errorf("unsupported trace exporter: %s", global.TraceExporter)
	}
}

// Tracer 返回 tp 上的 offline-hub tracer，tp 为 nil 时回退到全局 provider。
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// Inject 将当前 span 上下文写入上游请求头。
func Inject(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}
