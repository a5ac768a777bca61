package main

import (
	"log"

	"go.uber.org/fx"

	"smallbiznis-missions/pkg/authz"
	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/db"
	"smallbiznis-missions/pkg/featureflags"
	"smallbiznis-missions/pkg/gen"
	"smallbiznis-missions/pkg/hashistack/secretmanager"
	"smallbiznis-missions/pkg/health"
	"smallbiznis-missions/pkg/httpapi"
	"smallbiznis-missions/pkg/logger"
	"smallbiznis-missions/pkg/otelcol"
	"smallbiznis-missions/pkg/profiling"
	"smallbiznis-missions/pkg/redis"
	"smallbiznis-missions/pkg/sequence"
	"smallbiznis-missions/pkg/server"
	"smallbiznis-missions/services/evidence"
	"smallbiznis-missions/services/ledger"
	"smallbiznis-missions/services/participation"
	"smallbiznis-missions/services/payout"
	"smallbiznis-missions/services/policy"
	"smallbiznis-missions/services/quota"
	"smallbiznis-missions/services/verification"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module(),
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		featureflags.Module,
		authz.Module,
		health.Module,
		policy.Module,

		quota.Module,
		quota.Gateway,
		participation.Module,
		participation.Gateway,
		verification.Module,
		verification.Gateway,
		ledger.Module,
		ledger.Gateway,
		payout.Module,
		payout.Gateway,
		evidence.Module,
		evidence.Gateway,

		httpapi.Module,
		server.TLS,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(logger.FxEvent)
