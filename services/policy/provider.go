package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/rediskey"

	"github.com/go-redis/cache/v9"
	"github.com/gosimple/slug"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -source=provider.go -destination=mock_provider.go -package=policy

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "policy_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "policy_cache_miss_total"})
)

const (
	localCacheSize  = 1024
	defaultCacheTTL = 30 * time.Second
)

var errStoreUnavailable = errors.New("policy store unavailable")

// Provider serves the read-only policy numbers the engine consumes.
type Provider interface {
	TimeoutFor(ctx context.Context, missionType string) (time.Duration, error)
	MinPayoutAmount(ctx context.Context) (int64, error)
}

// NormalizeMissionType maps free-form mission type names onto policy keys.
func NormalizeMissionType(missionType string) string {
	return slug.Make(missionType)
}

// RedisProvider reads policy values from redis, falling back to config
// defaults when a key is absent or redis is unreachable. Timeouts are
// stored as integer milliseconds.
//
// Resolved values sit in a process-local TinyLFU for Policy.CacheTTL.
// Redis already holds the source values, so nothing is written back.
type RedisProvider struct {
	rdb   redis.UniversalClient
	cfg   *config.Config
	cache *cache.Cache
}

type Params struct {
	fx.In
	Redis  *redis.Client
	Config *config.Config
}

func NewRedisProvider(p Params) Provider {
	return newRedisProvider(p.Redis, p.Config)
}

func newRedisProvider(rdb redis.UniversalClient, cfg *config.Config) *RedisProvider {
	ttl := cfg.Policy.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	local := cache.New(&cache.Options{
		LocalCache: cache.NewTinyLFU(localCacheSize, ttl),
	})
	return &RedisProvider{
		rdb:   rdb,
		cfg:   cfg,
		cache: local,
	}
}

func (p *RedisProvider) TimeoutFor(ctx context.Context, missionType string) (time.Duration, error) {
	key := NormalizeMissionType(missionType)
	fallback := p.cfg.TimeoutFor(key).Milliseconds()

	ms, err := p.load(ctx, rediskey.BuildPolicyTimeoutKey(key), fallback)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (p *RedisProvider) MinPayoutAmount(ctx context.Context) (int64, error) {
	return p.load(ctx, rediskey.BuildPolicyMinPayoutKey(), p.cfg.Policy.MinPayoutAmount)
}

// Invalidate drops a cached value so the next read goes to redis.
func (p *RedisProvider) Invalidate(ctx context.Context, key string) error {
	return p.cache.Delete(ctx, key)
}

// load resolves key through the local cache. Concurrent misses share one
// redis read. An unreachable store yields the fallback without caching it.
func (p *RedisProvider) load(ctx context.Context, key string, fallback int64) (int64, error) {
	var v int64
	missed := false
	err := p.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: &v,
		Do: func(*cache.Item) (interface{}, error) {
			missed = true
			return p.read(ctx, key, fallback)
		},
	})
	if missed {
		cacheMiss.Inc()
	} else {
		cacheHits.Inc()
	}

	if errors.Is(err, errStoreUnavailable) {
		zap.L().Warn("policy store unavailable, using default", zap.String("key", key), zap.Error(err))
		return fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("policy %s: %w", key, err)
	}
	return v, nil
}

func (p *RedisProvider) read(ctx context.Context, key string, fallback int64) (int64, error) {
	raw, err := p.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errStoreUnavailable, err)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		zap.L().Warn("invalid policy value, using default", zap.String("key", key), zap.String("value", raw))
		return fallback, nil
	}
	return v, nil
}

// Static is a fixed policy, handy for tests and single-node setups.
type Static struct {
	Timeout   time.Duration
	Timeouts  map[string]time.Duration
	MinPayout int64
}

func (s Static) TimeoutFor(_ context.Context, missionType string) (time.Duration, error) {
	if d, ok := s.Timeouts[NormalizeMissionType(missionType)]; ok {
		return d, nil
	}
	return s.Timeout, nil
}

func (s Static) MinPayoutAmount(context.Context) (int64, error) {
	return s.MinPayout, nil
}
