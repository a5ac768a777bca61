package participation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"smallbiznis-missions/pkg/db/pagination"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/sequence"
	"smallbiznis-missions/services/policy"
	"smallbiznis-missions/services/quota"
	"smallbiznis-missions/services/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   *Service
	quota *quota.Service
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &quota.MissionDay{}, &Participation{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	q := quota.NewService(quota.ServiceParams{DB: db, Node: node})
	f := &fixture{db: db, quota: q, clock: time.Now().UTC()}
	f.svc = NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Quota:  q,
		Policy: policy.Static{Timeout: time.Hour, Timeouts: map[string]time.Duration{"quick-survey": 10 * time.Minute}},
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) openDay(t *testing.T, missionType string, slots int) *quota.MissionDay {
	t.Helper()
	day, err := f.quota.OpenDay(context.Background(), quota.OpenDayRequest{
		CampaignID:   fmt.Sprintf("cmp-%s-%d", missionType, slots),
		Date:         f.clock,
		MissionType:  missionType,
		QuotaTotal:   slots,
		RewardAmount: 2500,
	})
	require.NoError(t, err)
	return day
}

func (f *fixture) claim(t *testing.T, dayID, memberID string) *Participation {
	t.Helper()
	res, err := f.svc.Claim(context.Background(), ClaimRequest{
		MissionDayID:   dayID,
		MemberID:       memberID,
		IdempotencyKey: "key-" + memberID + "-" + dayID,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)
	return res.Participation
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusInProgress, StatusPendingReview))
	require.True(t, CanTransition(StatusPendingReview, StatusManualReview))
	require.True(t, CanTransition(StatusManualReview, StatusApproved))
	require.False(t, CanTransition(StatusInProgress, StatusApproved))
	require.False(t, CanTransition(StatusExpired, StatusPendingReview))
	require.False(t, CanTransition(StatusApproved, StatusRejected))
	require.ElementsMatch(t, liveStatuses, sources(StatusCanceled))
	require.ElementsMatch(t, []Status{StatusInProgress}, sources(StatusExpired))

	for _, s := range []Status{StatusApproved, StatusRejected, StatusExpired, StatusCanceled} {
		require.True(t, s.Terminal(), s)
		require.Empty(t, transitions[s])
	}
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "Quick Survey", 2)

	res, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-1", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)
	require.False(t, res.Replayed)

	p := res.Participation
	require.Equal(t, StatusInProgress, p.Status)
	require.Equal(t, int64(2500), p.RewardAmount)
	require.Equal(t, "quick-survey", p.MissionType)
	require.WithinDuration(t, f.clock.Add(10*time.Minute), p.ExpiresAt, time.Millisecond)
	require.Equal(t, "PTC-"+p.ID, p.Code)

	t.Run("replay returns the same participation", func(t *testing.T) {
		again, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-1", IdempotencyKey: "k-1"})
		require.NoError(t, err)
		require.True(t, again.Replayed)
		require.Equal(t, p.ID, again.Participation.ID)

		left, err := f.quota.GetDay(ctx, day.ID)
		require.NoError(t, err)
		require.Equal(t, 1, left.QuotaRemaining)
	})

	t.Run("key reused by another member", func(t *testing.T) {
		_, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-2", IdempotencyKey: "k-1"})
		require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
	})

	t.Run("second live claim on the same day", func(t *testing.T) {
		_, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-1", IdempotencyKey: "k-other"})
		require.True(t, errutil.IsPolicyViolation(err))
	})

	t.Run("exhausted is a result, not an error", func(t *testing.T) {
		f.claim(t, day.ID, "m-2")
		res, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-3", IdempotencyKey: "k-3"})
		require.NoError(t, err)
		require.Equal(t, OutcomeExhausted, res.Outcome)
		require.Nil(t, res.Participation)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-4"})
		require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

		_, err = f.svc.Claim(ctx, ClaimRequest{MissionDayID: "missing", MemberID: "m-4", IdempotencyKey: "k-4"})
		require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
	})
}

func TestClaimUsesSequenceCodes(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	f.svc.seq = sequence.NewRedisGenerator(sequence.Params{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})})

	day := f.openDay(t, "visit", 1)
	p := f.claim(t, day.ID, "m-1")
	require.Regexp(t, `^PTC-\d{6}-[0-9A-Z]{5}$`, p.Code)
}

func TestClaimConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const slots, members = 4, 20
	day := f.openDay(t, "visit", slots)

	var granted, exhausted atomic.Int32
	var g errgroup.Group
	for i := 0; i < members; i++ {
		member := fmt.Sprintf("m-%02d", i)
		g.Go(func() error {
			res, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: member, IdempotencyKey: "k-" + member})
			if err != nil {
				return err
			}
			if res.Outcome == OutcomeGranted {
				granted.Add(1)
			} else {
				exhausted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(slots), granted.Load())
	require.Equal(t, int32(members-slots), exhausted.Load())

	var rows int64
	require.NoError(t, f.db.Model(&Participation{}).Where("mission_day_id = ?", day.ID).Count(&rows).Error)
	require.Equal(t, int64(slots), rows)

	left, err := f.quota.GetDay(ctx, day.ID)
	require.NoError(t, err)
	require.Zero(t, left.QuotaRemaining)
}

func TestClaimConcurrentSameMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "visit", 5)

	var granted, refused atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k-%02d", i)
		g.Go(func() error {
			res, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-1", IdempotencyKey: key})
			switch {
			case errutil.IsPolicyViolation(err):
				refused.Add(1)
				return nil
			case err != nil:
				return err
			}
			if res.Outcome == OutcomeGranted {
				granted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), granted.Load())
	require.Equal(t, int32(9), refused.Load())

	left, err := f.quota.GetDay(ctx, day.ID)
	require.NoError(t, err)
	require.Equal(t, 4, left.QuotaRemaining)
}

func TestMarkSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "visit", 5)

	t.Run("owner before deadline", func(t *testing.T) {
		p := f.claim(t, day.ID, "m-1")
		got, err := f.svc.MarkSubmitted(ctx, f.db, p.ID, "m-1", "photo", f.clock)
		require.NoError(t, err)
		require.Equal(t, StatusPendingReview, got.Status)
		require.NotNil(t, got.SubmittedAt)

		_, err = f.svc.MarkSubmitted(ctx, f.db, p.ID, "m-1", "photo", f.clock)
		require.True(t, errutil.IsInvalidTransition(err))
	})

	t.Run("other member", func(t *testing.T) {
		p := f.claim(t, day.ID, "m-2")
		_, err := f.svc.MarkSubmitted(ctx, f.db, p.ID, "m-9", "photo", f.clock)
		require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))
	})

	t.Run("deadline passed", func(t *testing.T) {
		p := f.claim(t, day.ID, "m-3")
		_, err := f.svc.MarkSubmitted(ctx, f.db, p.ID, "m-3", "photo", p.ExpiresAt.Add(time.Second))
		require.True(t, errutil.IsPolicyViolation(err))
	})

	t.Run("expired", func(t *testing.T) {
		p := f.claim(t, day.ID, "m-4")
		n, err := f.svc.ExpireDue(ctx, p.ExpiresAt)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(1))

		_, err = f.svc.MarkSubmitted(ctx, f.db, p.ID, "m-4", "photo", f.clock)
		require.True(t, errutil.IsInvalidTransition(err))
	})
}

func TestApplyDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "visit", 5)

	submitted := func(member string) *Participation {
		p := f.claim(t, day.ID, member)
		p, err := f.svc.MarkSubmitted(ctx, f.db, p.ID, member, "proof", f.clock)
		require.NoError(t, err)
		return p
	}

	p := submitted("m-1")
	got, changed, err := f.svc.ApplyDecision(ctx, f.db, p.ID, StatusApproved, nil, f.clock)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, StatusApproved, got.Status)

	_, changed, err = f.svc.ApplyDecision(ctx, f.db, p.ID, StatusApproved, nil, f.clock)
	require.NoError(t, err)
	require.False(t, changed)

	reason := "blurry"
	_, _, err = f.svc.ApplyDecision(ctx, f.db, p.ID, StatusRejected, &reason, f.clock)
	require.True(t, errutil.IsInvalidTransition(err))

	q := submitted("m-2")
	_, _, err = f.svc.ApplyDecision(ctx, f.db, q.ID, StatusRejected, nil, f.clock)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	escalated, err := f.svc.EscalateToManual(ctx, f.db, q.ID, f.clock)
	require.NoError(t, err)
	require.Equal(t, StatusManualReview, escalated.Status)

	got, changed, err = f.svc.ApplyDecision(ctx, f.db, q.ID, StatusRejected, &reason, f.clock)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, reason, *got.FailureReason)

	inProgress := f.claim(t, day.ID, "m-3")
	_, _, err = f.svc.ApplyDecision(ctx, f.db, inProgress.ID, StatusApproved, nil, f.clock)
	require.True(t, errutil.IsInvalidTransition(err))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "visit", 4)
	p := f.claim(t, day.ID, "m-1")

	_, err := f.svc.Cancel(ctx, p.ID, CancelRequest{ActorID: "m-2"})
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	got, err := f.svc.Cancel(ctx, p.ID, CancelRequest{ActorID: "m-1"})
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, got.Status)
	require.Equal(t, "canceled", *got.FailureReason)

	again, err := f.svc.Cancel(ctx, p.ID, CancelRequest{ActorID: "m-1"})
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, again.Status)

	// the slot stays consumed
	left, err := f.quota.GetDay(ctx, day.ID)
	require.NoError(t, err)
	require.Equal(t, 3, left.QuotaRemaining)

	// a canceled claim no longer blocks a new one
	res, err := f.svc.Claim(ctx, ClaimRequest{MissionDayID: day.ID, MemberID: "m-1", IdempotencyKey: "k-new"})
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)

	other := f.claim(t, day.ID, "m-5")
	got, err = f.svc.Cancel(ctx, other.ID, CancelRequest{ActorID: "ops", Staff: true, Reason: "fraud"})
	require.NoError(t, err)
	require.Equal(t, "fraud", *got.FailureReason)

	expired := f.claim(t, day.ID, "m-6")
	_, err = f.svc.ExpireDue(ctx, expired.ExpiresAt)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, expired.ID, CancelRequest{ActorID: "m-6"})
	require.True(t, errutil.IsInvalidTransition(err))
}

func TestCancelAfterDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "visit", 2)
	p := f.claim(t, day.ID, "m-1")

	f.clock = p.ExpiresAt.Add(time.Second)

	_, err := f.svc.Cancel(ctx, p.ID, CancelRequest{ActorID: "m-1"})
	require.True(t, errutil.IsPolicyViolation(err))

	_, err = f.svc.Cancel(ctx, p.ID, CancelRequest{ActorID: "ops", Staff: true, Reason: "fraud"})
	require.True(t, errutil.IsPolicyViolation(err))

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)

	n, err := f.svc.ExpireDue(ctx, f.clock)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err = f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "visit", 3)

	p := f.claim(t, day.ID, "m-1")
	q := f.claim(t, day.ID, "m-2")
	_, err := f.svc.MarkSubmitted(ctx, f.db, q.ID, "m-2", "proof", f.clock)
	require.NoError(t, err)

	n, err := f.svc.ExpireDue(ctx, p.ExpiresAt.Add(-time.Second))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = f.svc.ExpireDue(ctx, p.ExpiresAt)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)

	submitted, err := f.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingReview, submitted.Status)

	n, err = f.svc.ExpireDue(ctx, p.ExpiresAt.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := f.openDay(t, "visit", 5)
	for i := 0; i < 5; i++ {
		f.claim(t, day.ID, fmt.Sprintf("m-%d", i))
	}

	page, info, err := f.svc.List(ctx, ListFilter{MissionDayID: day.ID}, pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.True(t, info.HasMore)

	rest, info, err := f.svc.List(ctx, ListFilter{MissionDayID: day.ID}, pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, info.HasMore)

	mine, _, err := f.svc.List(ctx, ListFilter{MemberID: "m-1"}, pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, mine, 1)
}
