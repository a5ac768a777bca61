package evidence

import (
	"smallbiznis-missions/pkg/httpapi"
	"smallbiznis-missions/pkg/minio"

	"go.uber.org/fx"
)

var Module = fx.Module("evidence.service",
	minio.Client,
	fx.Provide(NewService),
)

var Gateway = fx.Module("evidence.gateway",
	fx.Provide(httpapi.AsRoute(NewHandler)),
)
