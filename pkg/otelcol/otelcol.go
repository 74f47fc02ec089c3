package otelcol

import (
	"context"
	"strings"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module installs the process tracer provider. Without OTEL.EXPORTER the
// global no-op provider stays in place.
var Module = fx.Module("otelcol",
	fx.Provide(
		NewTracerProvider,
		NewMeterProvider,
	),
	fx.Invoke(func(trace.TracerProvider) {}),
)

func resource(cfg *config.Config) *sdkresource.Resource {
	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return sdkresource.Default()
	}
	return res
}

func ProvideTrace(exporter sdktrace.SpanExporter, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append(opts, sdktrace.WithBatcher(exporter))
	return sdktrace.NewTracerProvider(opts...)
}

func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config) (trace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch strings.ToLower(cfg.Otel.Exporter) {
	case "grpc":
		exporter, err = exporters.ProvideGrpc(cfg)
	case "http":
		exporter, err = exporters.ProvideHttp(cfg)
	default:
		return otel.GetTracerProvider(), nil
	}
	if err != nil {
		return nil, err
	}

	tp := ProvideTrace(exporter, sdktrace.WithResource(resource(cfg)))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	zap.L().Info("otel tracing enabled",
		zap.String("exporter", cfg.Otel.Exporter),
		zap.String("endpoint", cfg.Otel.Endpoint),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

// NewMeterProvider returns the global provider. Application metrics go
// through prometheus and /metrics.
func NewMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
