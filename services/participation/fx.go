package participation

import (
	"smallbiznis-missions/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("participation.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("participation.gateway",
	fx.Provide(httpapi.AsRoute(NewHandler)),
)
