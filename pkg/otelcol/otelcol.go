package otelcol

import (
	"context"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		NewResource,
		NewTracerProvider,
		NewMeterProvider,
	),
	fx.Invoke(registerGlobals),
)

func NewResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

// NewTracerProvider exports over OTLP when OTEL.ADDR is set. Without it
// spans are still created so trace ids show up in logs.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, res *resource.Resource) (oteltrace.TracerProvider, error) {
	opts := []trace.TracerProviderOption{trace.WithResource(res)}

	if cfg.Otel.Addr != "" {
		exporter, err := exporters.New(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exporter))
		zap.L().Info("otel trace exporter configured", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))
	}

	tp := trace.NewTracerProvider(opts...)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp, nil
}

func NewMeterProvider(lc fx.Lifecycle, res *resource.Resource) otelmetric.MeterProvider {
	mp := metric.NewMeterProvider(metric.WithResource(res))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mp.Shutdown(ctx)
		},
	})
	return mp
}

func registerGlobals(tp oteltrace.TracerProvider, mp otelmetric.MeterProvider) {
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}
