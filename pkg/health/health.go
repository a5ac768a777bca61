package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"smallbiznis-missions/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	probeTimeout = 2 * time.Second
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type probe struct {
	name  string
	check func(ctx context.Context) error
}

type health struct {
	probes []probe
}

type HealthParams struct {
	fx.In
	DB     *gorm.DB       `optional:"true"`
	Redis  *redis.Client  `optional:"true"`
	Minio  *minio.Client  `optional:"true"`
	Config *config.Config `optional:"true"`
}

// ProvideHealth builds readiness probes for whichever backing stores the
// process was wired with.
func ProvideHealth(p HealthParams) HealthService {
	h := &health{}

	if p.DB != nil {
		h.probes = append(h.probes, probe{name: p.DB.Name(), check: func(ctx context.Context) error {
			sqlDB, err := p.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}

	if p.Redis != nil {
		h.probes = append(h.probes, probe{name: "redis", check: func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}})
	}

	if p.Minio != nil && p.Config != nil {
		bucket := p.Config.Minio.BucketName
		h.probes = append(h.probes, probe{name: "evidence-store", check: func(ctx context.Context) error {
			ok, err := p.Minio.BucketExists(ctx, bucket)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("bucket %q not found", bucket)
			}
			return nil
		}})
	}

	return h
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{Status: statusHealthy, Message: "OK"})
}

func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	deps := make([]Dependency, len(h.probes))
	var g errgroup.Group
	for i, p := range h.probes {
		g.Go(func() error {
			deps[i] = Dependency{Name: p.name, Status: statusHealthy, Message: "OK"}
			if err := p.check(ctx); err != nil {
				deps[i].Status = statusUnhealthy
				deps[i].Message = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &Health{Status: statusHealthy, Message: "OK", Deps: deps}
	code := http.StatusOK
	for _, d := range deps {
		if d.Status != statusHealthy {
			res.Status = statusUnhealthy
			res.Message = "dependency unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, res)
}
