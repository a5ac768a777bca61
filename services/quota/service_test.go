package quota

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &MissionDay{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func openDay(t *testing.T, svc *Service, quota int) *MissionDay {
	t.Helper()
	day, err := svc.OpenDay(context.Background(), OpenDayRequest{
		CampaignID:   "cmp-1",
		Date:         time.Now(),
		MissionType:  "Store Visit",
		QuotaTotal:   quota,
		RewardAmount: 1500,
	})
	require.NoError(t, err)
	return day
}

func TestOpenDay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	day := openDay(t, svc, 3)
	require.Equal(t, DayActive, day.Status)
	require.Equal(t, 3, day.QuotaRemaining)
	require.Equal(t, "store-visit", day.MissionType)

	_, err := svc.OpenDay(ctx, OpenDayRequest{
		CampaignID: "cmp-1", Date: time.Now(), MissionType: "visit", QuotaTotal: 1, RewardAmount: 10,
	})
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	_, err = svc.OpenDay(ctx, OpenDayRequest{
		CampaignID: "cmp-2", Date: time.Now(), MissionType: "visit", QuotaTotal: 1, RewardAmount: 10,
		AutoApproveRule: "evidence.",
	})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = svc.OpenDay(ctx, OpenDayRequest{
		CampaignID: "cmp-3", Date: time.Now(), MissionType: "visit", QuotaTotal: 1,
	})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestTryClaimUntilExhausted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := openDay(t, svc, 2)

	claim := func() error {
		return svc.db.Transaction(func(tx *gorm.DB) error {
			return svc.TryClaim(ctx, tx, day.ID)
		})
	}

	require.NoError(t, claim())
	require.NoError(t, claim())
	require.True(t, IsExhausted(claim()))

	got, err := svc.GetDay(ctx, day.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.QuotaRemaining)
}

func TestTryClaimConcurrent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const quota, claimants = 5, 25
	day := openDay(t, svc, quota)

	var granted, exhausted atomic.Int64
	var g errgroup.Group
	for i := 0; i < claimants; i++ {
		g.Go(func() error {
			err := svc.db.Transaction(func(tx *gorm.DB) error {
				return svc.TryClaim(ctx, tx, day.ID)
			})
			switch {
			case err == nil:
				granted.Add(1)
			case IsExhausted(err):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(quota), granted.Load())
	require.Equal(t, int64(claimants-quota), exhausted.Load())

	got, err := svc.GetDay(ctx, day.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.QuotaRemaining)
}

func TestTryClaimRollbackRestoresSlot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := openDay(t, svc, 1)

	boom := errors.New("insert failed")
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.TryClaim(ctx, tx, day.ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := svc.GetDay(ctx, day.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.QuotaRemaining)
}

func TestTryClaimClosedDay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := openDay(t, svc, 1)

	closed, err := svc.CloseDay(ctx, day.ID)
	require.NoError(t, err)
	require.Equal(t, DayClosed, closed.Status)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.TryClaim(ctx, tx, day.ID)
	})
	require.True(t, errutil.IsPolicyViolation(err))

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.TryClaim(ctx, tx, "missing")
	})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestResetDay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := openDay(t, svc, 1)

	require.NoError(t, svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.TryClaim(ctx, tx, day.ID)
	}))

	got, err := svc.ResetDay(ctx, day.ID, ResetDayRequest{QuotaTotal: 4})
	require.NoError(t, err)
	require.Equal(t, 4, got.QuotaTotal)
	require.Equal(t, 4, got.QuotaRemaining)

	_, err = svc.CloseDay(ctx, day.ID)
	require.NoError(t, err)

	_, err = svc.ResetDay(ctx, day.ID, ResetDayRequest{QuotaTotal: 2})
	require.True(t, errutil.IsInvalidTransition(err))
}

func TestLockDay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := openDay(t, svc, 2)

	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := svc.LockDay(ctx, tx, day.ID)
		require.NoError(t, err)
		require.Equal(t, 2, locked.QuotaRemaining)

		_, err = svc.LockDay(ctx, tx, "missing")
		require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
		return nil
	})
	require.NoError(t, err)
}

func TestCloseElapsed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	yesterday, err := svc.OpenDay(ctx, OpenDayRequest{
		CampaignID: "cmp-1", Date: time.Now().Add(-24 * time.Hour), MissionType: "visit", QuotaTotal: 1, RewardAmount: 10,
	})
	require.NoError(t, err)
	today := openDay(t, svc, 1)

	n, err := svc.CloseElapsed(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := svc.GetDay(ctx, yesterday.ID)
	require.NoError(t, err)
	require.Equal(t, DayClosed, got.Status)
	require.NotNil(t, got.ClosedAt)

	got, err = svc.GetDay(ctx, today.ID)
	require.NoError(t, err)
	require.Equal(t, DayActive, got.Status)
}
