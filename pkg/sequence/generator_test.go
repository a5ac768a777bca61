package sequence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newGenerator(t *testing.T) (*RedisGenerator, *miniredis.Miniredis) {
	t.Helper()
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	mr := miniredis.RunT(t)
	mr.SetTime(now)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &RedisGenerator{
		rdb: rdb,
		now: func() time.Time { return now },
	}, mr
}

func TestNextParticipationCode(t *testing.T) {
	g, mr := newGenerator(t)
	ctx := context.Background()

	first, err := g.NextParticipationCode(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, "PTC-260309-001"), first)

	second, err := g.NextParticipationCode(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(second, "PTC-260309-002"), second)

	require.True(t, mr.Exists("seq:PTC:260309"))
	require.Equal(t, 15*time.Hour, mr.TTL("seq:PTC:260309"))
}

func TestEncode(t *testing.T) {
	require.Equal(t, "001", encode(1))
	require.Equal(t, "00Z", encode(35))
	require.Equal(t, "ZZZ", encode(46655))
	require.Equal(t, "1000", encode(46656))
}

func TestPayoutCodeUsesOwnCounter(t *testing.T) {
	g, _ := newGenerator(t)
	ctx := context.Background()

	_, err := g.NextParticipationCode(ctx)
	require.NoError(t, err)

	code, err := g.NextPayoutCode(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(code, "PO-260309-001"), code)
	require.Len(t, code, len("PO-260309-001")+2)
}
