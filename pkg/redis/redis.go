package redis

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-missions/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const (
	pingAttempts = 5
	pingBackoff  = 3 * time.Second
)

// New connects the shared client used for sequences, policy lookups and the
// sweeper lock. Startup fails when Redis stays unreachable.
func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	log := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	if err := ping(context.Background(), rdb, log); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log.Info("[Redis] connected")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
	return rdb, nil
}

func ping(ctx context.Context, rdb *redis.Client, log *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		log.Warn("[Redis] not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingBackoff):
		}
	}
	return fmt.Errorf("redis unreachable after %d attempts: %w", pingAttempts, err)
}
