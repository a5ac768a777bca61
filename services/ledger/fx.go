package ledger

import (
	"smallbiznis-missions/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("ledger.gateway",
	fx.Provide(httpapi.AsRoute(NewHandler)),
)
