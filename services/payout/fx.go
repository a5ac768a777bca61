package payout

import (
	"smallbiznis-missions/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("payout.gateway",
	fx.Provide(httpapi.AsRoute(NewHandler)),
)
