package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/middleware"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/validator"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"
)

const storeProbeInterval = 10 * time.Second

// ProvideGRPCServer serves the standard gRPC health service for load
// balancers and meshes. Status follows the reachability of the database.
var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewListener,
		WithOption,
		NewGRPCServer,
		health.NewServer,
	),
	fx.Invoke(StartGRPCServer),
)

func NewListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%s", cfg.Grpc.Addr))
}

type OptionParams struct {
	fx.In
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Certs          *CertReloader `optional:"true"`
}

func WithOption(p OptionParams) []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(),
			validator.UnaryServerInterceptor(validator.WithFailFast()),
			middleware.GRPCError(),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(),
			validator.StreamServerInterceptor(validator.WithFailFast()),
		),
		grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(p.TracerProvider),
			otelgrpc.WithMeterProvider(p.MeterProvider),
		)),
	}
	if p.Certs != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(p.Certs.TLSConfig())))
	}
	return opts
}

func NewGRPCServer(opts []grpc.ServerOption, hs *health.Server) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv
}

type StartParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Listener  net.Listener
	Server    *grpc.Server
	Health    *health.Server
	DB        *gorm.DB `optional:"true"`
}

func StartGRPCServer(p StartParams) {
	ctx, cancel := context.WithCancel(context.Background())
	services := []string{"", p.Config.AppName}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			setStatus(p.Health, services, healthpb.HealthCheckResponse_SERVING)
			if p.DB != nil {
				go probeStore(ctx, p.DB, p.Health, services)
			}
			go func() {
				zap.L().Info("Starting gRPC server", zap.String("addr", p.Listener.Addr().String()))
				if err := p.Server.Serve(p.Listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					zap.L().Error("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			zap.L().Info("Stopping gRPC server")
			cancel()
			p.Health.Shutdown()
			p.Server.GracefulStop()
			return nil
		},
	})
}

func setStatus(hs *health.Server, services []string, status healthpb.HealthCheckResponse_ServingStatus) {
	for _, s := range services {
		hs.SetServingStatus(s, status)
	}
}

// probeStore flips the health status when the database stops answering.
// Every ledger and quota operation needs it, so there is nothing useful to
// serve without it.
func probeStore(ctx context.Context, db *gorm.DB, hs *health.Server, services []string) {
	ticker := time.NewTicker(storeProbeInterval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := pingStore(ctx, db)
		switch {
		case err != nil && serving:
			zap.L().Warn("grpc health: database unreachable", zap.Error(err))
			setStatus(hs, services, healthpb.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			zap.L().Info("grpc health: database reachable again")
			setStatus(hs, services, healthpb.HealthCheckResponse_SERVING)
			serving = true
		}
	}
}

func pingStore(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, storeProbeInterval/2)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
