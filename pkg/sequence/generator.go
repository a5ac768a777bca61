package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"smallbiznis-missions/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

const (
	PrefixParticipation = "PTC"
	PrefixPayout        = "PO"

	seqWidth    = 3
	suffixWidth = 2
	suffixChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Generator hands out human readable reference codes of the form
// PREFIX-YYMMDD-SSSRR, where SSS is a per-day base36 counter and RR is random.
type Generator interface {
	NextParticipationCode(ctx context.Context) (string, error)
	NextPayoutCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb redis.UniversalClient
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{rdb: p.Redis, now: time.Now}
}

func (g *RedisGenerator) NextParticipationCode(ctx context.Context) (string, error) {
	return g.next(ctx, PrefixParticipation)
}

func (g *RedisGenerator) NextPayoutCode(ctx context.Context) (string, error) {
	return g.next(ctx, PrefixPayout)
}

func (g *RedisGenerator) next(ctx context.Context, prefix string) (string, error) {
	now := g.now().UTC()
	day := now.Format("060102")
	key := rediskey.BuildSequenceKey(prefix, day)
	// counters outlive their day by an hour so late writers near midnight
	// never restart at 1
	expireAt := now.Truncate(24 * time.Hour).Add(25 * time.Hour)

	var incr *redis.IntCmd
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sequence %s: %w", key, err)
	}

	suffix, err := randomSuffix(suffixWidth)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encode(incr.Val()), suffix), nil
}

func encode(seq int64) string {
	s := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(s) < seqWidth {
		s = strings.Repeat("0", seqWidth-len(s)) + s
	}
	return s
}

func randomSuffix(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixChars))))
		if err != nil {
			return "", err
		}
		b[i] = suffixChars[num.Int64()]
	}
	return string(b), nil
}
