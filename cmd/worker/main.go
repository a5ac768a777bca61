package main

import (
	"log"

	"go.uber.org/fx"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/db"
	"smallbiznis-missions/pkg/gen"
	"smallbiznis-missions/pkg/hashistack/secretmanager"
	"smallbiznis-missions/pkg/logger"
	"smallbiznis-missions/pkg/otelcol"
	"smallbiznis-missions/pkg/redis"
	"smallbiznis-missions/pkg/sequence"
	"smallbiznis-missions/pkg/task"
	"smallbiznis-missions/services/participation"
	"smallbiznis-missions/services/policy"
	"smallbiznis-missions/services/quota"
	"smallbiznis-missions/services/sweeper"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module(),
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		task.Server,
		policy.Module,
		quota.Module,
		participation.Module,
		sweeper.Module,
		sweeper.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(logger.FxEvent)
