package verification

import (
	"smallbiznis-missions/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("verification.service",
	fx.Provide(NewCELChecker),
	fx.Provide(NewService),
)

var Gateway = fx.Module("verification.gateway",
	fx.Provide(httpapi.AsRoute(NewHandler)),
)
