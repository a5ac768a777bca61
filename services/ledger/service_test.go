package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"smallbiznis-missions/pkg/db/option"
	"smallbiznis-missions/pkg/db/pagination"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/repository"
	"smallbiznis-missions/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error                  { return nil }
func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error { return nil }
func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error          { return nil }
func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error          { return nil }
func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error)             { return 0, nil }

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &LedgerEntry{}, &MemberBalance{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func chain(amounts ...int64) []*LedgerEntry {
	var entries []*LedgerEntry
	prev := ""
	for i, amount := range amounts {
		e := &LedgerEntry{
			ID:           fmt.Sprintf("entry-%d", i+1),
			MemberID:     "member",
			Sequence:     int64(i + 1),
			Amount:       amount,
			Reason:       ReasonMissionReward,
			PreviousHash: prev,
			CreatedAt:    time.Now().Add(time.Duration(i) * time.Minute),
		}
		e.Hash = e.GenerateHash()
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyChainValid(t *testing.T) {
	entries := chain(100, -50, 25)
	svc := &Service{
		ledger: &repoMock[LedgerEntry]{
			findFn: func(ctx context.Context, _ *LedgerEntry, opts ...option.QueryOption) ([]*LedgerEntry, error) {
				return entries, nil
			},
		},
	}

	report, err := svc.VerifyChain(context.Background(), "member")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 3, report.Entries)
}

func TestVerifyChainInvalid(t *testing.T) {
	entries := chain(100, -50)
	entries[1].Amount = -5

	svc := &Service{
		ledger: &repoMock[LedgerEntry]{
			findFn: func(ctx context.Context, _ *LedgerEntry, opts ...option.QueryOption) ([]*LedgerEntry, error) {
				return entries, nil
			},
		},
	}

	report, err := svc.VerifyChain(context.Background(), "member")
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Equal(t, "entry-2", report.BrokenAt)
}

func TestPostAndBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 1500, Reason: ReasonMissionReward, ReferenceID: "p-1"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 700, Reason: ReasonMissionReward, ReferenceID: "p-2"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: -1000, Reason: ReasonPayout, ReferenceID: "po-1"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-2", Amount: 50, Reason: ReasonAdjustment})
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, int64(1200), bal.Balance)

	report, err := svc.VerifyChain(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 3, report.Entries)
}

func TestPostDuplicateReferenceIsIntegrityError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 100, Reason: ReasonMissionReward, ReferenceID: "p-1"})
	require.NoError(t, err)

	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 100, Reason: ReasonMissionReward, ReferenceID: "p-1"})
	require.True(t, errutil.IsIntegrity(err))

	var count int64
	require.NoError(t, svc.db.Model(&LedgerEntry{}).Where("member_id = ?", "m-1").Count(&count).Error)
	require.Equal(t, int64(1), count)

	// same reference under another reason is a different movement
	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: -100, Reason: ReasonPayout, ReferenceID: "p-1"})
	require.NoError(t, err)
}

func TestFindByReference(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	posted, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 900, Reason: ReasonMissionReward, ReferenceID: "p-1"})
	require.NoError(t, err)

	got, err := svc.FindByReference(ctx, nil, ReasonMissionReward, "p-1")
	require.NoError(t, err)
	require.Equal(t, posted.ID, got.ID)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		inTx, err := svc.FindByReference(ctx, tx, ReasonMissionReward, "p-1")
		require.NoError(t, err)
		require.Equal(t, posted.ID, inTx.ID)
		return nil
	})
	require.NoError(t, err)

	none, err := svc.FindByReference(ctx, nil, ReasonPayout, "p-1")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestPostRejectsOverdraw(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 100, Reason: ReasonMissionReward, ReferenceID: "p-1"})
	require.NoError(t, err)

	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: -101, Reason: ReasonPayout, ReferenceID: "po-1"})
	require.True(t, errutil.IsPolicyViolation(err))

	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: -101, Reason: ReasonAdjustment, AllowNegative: true})
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, int64(-1), bal.Balance)
}

func TestPostValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 0, Reason: ReasonAdjustment})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 1, Reason: "BONUS"})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = svc.Post(ctx, nil, PostParams{Amount: 1, Reason: ReasonAdjustment})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestPostJoinsCallerTransaction(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Post(ctx, tx, PostParams{MemberID: "m-1", Amount: 100, Reason: ReasonMissionReward, ReferenceID: "p-1"}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	bal, err := svc.Balance(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.Balance)
}

func TestConcurrentPostsKeepChain(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 10, Reason: ReasonMissionReward, ReferenceID: fmt.Sprintf("p-%d", i)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	bal, err := svc.Balance(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, int64(200), bal.Balance)

	report, err := svc.VerifyChain(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 20, report.Entries)
}

func TestTamperedEntryBreaksChain(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 100, Reason: ReasonMissionReward, ReferenceID: "p-1"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 100, Reason: ReasonMissionReward, ReferenceID: "p-2"})
	require.NoError(t, err)

	require.NoError(t, svc.db.Model(&LedgerEntry{}).Where("id = ?", first.ID).Update("amount", 10000).Error)

	report, err := svc.VerifyChain(ctx, "m-1")
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Equal(t, first.ID, report.BrokenAt)
}

func TestReconcileRepairsProjection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 300, Reason: ReasonMissionReward, ReferenceID: "p-1"})
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, "m-1")
	require.NoError(t, err)
	require.False(t, report.Repaired)
	require.Equal(t, int64(0), report.Drift)

	require.NoError(t, svc.db.Model(&MemberBalance{}).Where("member_id = ?", "m-1").Update("balance", 999).Error)

	report, err = svc.Reconcile(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, report.Repaired)
	require.Equal(t, int64(699), report.Drift)
	require.Equal(t, int64(300), report.Actual)

	var mb MemberBalance
	require.NoError(t, svc.db.Where("member_id = ?", "m-1").Take(&mb).Error)
	require.Equal(t, int64(300), mb.Balance)
	require.Equal(t, int64(1), mb.EntryCount)
}

func TestListEntriesPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Post(ctx, nil, PostParams{MemberID: "m-1", Amount: 1, Reason: ReasonMissionReward, ReferenceID: fmt.Sprintf("p-%d", i)})
		require.NoError(t, err)
	}

	first, info, err := svc.ListEntries(ctx, "m-1", pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.True(t, info.HasMore)

	second, info, err := svc.ListEntries(ctx, "m-1", pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.False(t, info.HasMore)
	require.Equal(t, int64(1), second[1].Sequence)
}
