package exporters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smallbiznis-missions/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	dialTimeout = 10 * time.Second
)

// New returns an OTLP span exporter for OTEL.ADDR. OTEL.PROTOCOL selects
// grpc or http, defaulting to http.
func New(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	var client otlptrace.Client
	switch protocol := strings.ToLower(cfg.Otel.Protocol); protocol {
	case ProtocolGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithCompressor("gzip"),
			otlptracegrpc.WithEndpoint(cfg.Otel.Addr),
		}
		if !cfg.TLS.Enable {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		client = otlptracegrpc.NewClient(opts...)
	case ProtocolHTTP, "":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
			otlptracehttp.WithEndpoint(cfg.Otel.Addr),
		}
		if !cfg.TLS.Enable {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		client = otlptracehttp.NewClient(opts...)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", protocol)
	}

	return otlptrace.New(ctx, client)
}
