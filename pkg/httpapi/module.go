package httpapi

import (
	"net/http"

	"smallbiznis-missions/pkg/authz"
	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/health"
	"smallbiznis-missions/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

// Route is implemented by each service's HTTP handler.
type Route interface {
	Register(r *gin.RouterGroup)
}

// AsRoute annotates a handler constructor so NewRouter picks it up.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

type Params struct {
	fx.In
	Config   *config.Config
	Health   health.HealthService
	Enforcer *authz.Enforcer
	Routes   []Route `group:"routes"`
}

func NewRouter(p Params) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(zap.L()),
		middleware.Metrics(),
		middleware.Error(),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/liveness", p.Health.Liveness)
	r.GET("/health/readiness", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", middleware.Authenticate(p.Enforcer))
	for _, route := range p.Routes {
		route.Register(v1)
	}

	return r
}
