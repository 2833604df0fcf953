// internal/pkg/tracing/tracer.go
package tracing

import (
	"flashmart/internal/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// samplerFor 按配置的采样率选择采样器。
// ratio >= 1 全采（本地开发默认），否则按 TraceID 比例采样，
// 且跟随父 Span 的采样决定，避免一条链路里半截有半截没有。
func samplerFor(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// InitTracerProvider 初始化 Jaeger TracerProvider 并注册为全局实现，
// 同时设置跨进程传播器（W3C TraceContext + Baggage）。
func InitTracerProvider(serviceName, jaegerEndpoint string, sampleRatio float64) (*sdktrace.TracerProvider, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(samplerFor(sampleRatio)),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Logger().Info().
		Str("service", serviceName).
		Str("endpoint", jaegerEndpoint).
		Float64("sample_ratio", sampleRatio).
		Msg("tracing initialized")
	return tp, nil
}
