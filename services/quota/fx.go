package quota

import (
	"smallbiznis-missions/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("quota.gateway",
	fx.Provide(httpapi.AsRoute(NewHandler)),
)
