package profiling

import (
	"context"
	"os"

	"smallbiznis-missions/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(ProvideProfiling))

// Mutex profiles matter here: claims, decisions and payouts contend on row
// locks, and the sweeper on its redis lock.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

func tags(c *config.Config) map[string]string {
	t := map[string]string{
		"service_name": c.AppName,
		"env":          c.AppEnv,
	}
	if c.AppVersion != "" {
		t["version"] = c.AppVersion
	}
	if host, err := os.Hostname(); err == nil {
		t["hostname"] = host
	}
	return t
}

// ProvideProfiling starts pyroscope when PYROSCOPE.ADDR is configured.
func ProvideProfiling(lc fx.Lifecycle, c *config.Config) error {
	if c.Pyroscope.Addr == "" {
		zap.L().Info("pyroscope disabled")
		return nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes:    profileTypes,
		Tags:            tags(c),
	})
	if err != nil {
		return err
	}
	zap.L().Info("pyroscope started", zap.String("addr", c.Pyroscope.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}
