package ledger

import (
	"context"
	"time"

	"smallbiznis-missions/pkg/db/option"
	"smallbiznis-missions/pkg/db/pagination"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var entriesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_entries_posted_total",
	Help: "Ledger entries appended, by reason.",
}, []string{"reason"})

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	ledger  repository.Repository[LedgerEntry]
	balance repository.Repository[MemberBalance]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		ledger:  repository.ProvideStore[LedgerEntry](p.DB),
		balance: repository.ProvideStore[MemberBalance](p.DB),
	}
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// LockMember returns the member's projection row locked for update,
// creating it on first use. Every writer that reads the member's balance
// to make a decision goes through here, which serialises them per member.
func (s *Service) LockMember(ctx context.Context, tx *gorm.DB, memberID string) (*MemberBalance, error) {
	seed := &MemberBalance{MemberID: memberID, UpdatedAt: s.now().UTC()}
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, err
	}

	mb, err := s.balance.WithTrx(tx).FindOne(ctx, &MemberBalance{MemberID: memberID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if mb == nil {
		return nil, errutil.Internal("member balance row missing after seed", nil)
	}
	return mb, nil
}

// Post appends one entry. When tx is nil the post runs in its own
// transaction, otherwise it joins the caller's.
func (s *Service) Post(ctx context.Context, tx *gorm.DB, p PostParams) (*LedgerEntry, error) {
	if p.MemberID == "" {
		return nil, errutil.BadRequest("member_id is required", nil)
	}
	if p.Amount == 0 {
		return nil, errutil.BadRequest("amount must not be zero", nil)
	}
	if !p.Reason.Valid() {
		return nil, errutil.BadRequest("unsupported ledger reason", nil)
	}

	var entry *LedgerEntry
	run := func(tx *gorm.DB) error {
		var err error
		entry, err = s.post(ctx, tx, p)
		return err
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return nil, err
	}

	entriesPosted.WithLabelValues(string(p.Reason)).Inc()
	return entry, nil
}

func (s *Service) post(ctx context.Context, tx *gorm.DB, p PostParams) (*LedgerEntry, error) {
	log := zap.L().With(traceFields(ctx)...)

	mb, err := s.LockMember(ctx, tx, p.MemberID)
	if err != nil {
		return nil, err
	}

	if p.Amount < 0 && !p.AllowNegative {
		current, err := s.sum(ctx, tx, p.MemberID)
		if err != nil {
			return nil, err
		}
		if current+p.Amount < 0 {
			return nil, errutil.PolicyViolation("insufficient balance")
		}
	}

	entry := &LedgerEntry{
		ID:           s.node.Generate().String(),
		MemberID:     p.MemberID,
		Sequence:     mb.EntryCount + 1,
		Amount:       p.Amount,
		Reason:       p.Reason,
		Description:  p.Description,
		PreviousHash: mb.LastHash,
		Metadata:     p.Metadata,
		CreatedAt:    s.now().UTC().Truncate(time.Millisecond),
	}
	if p.ReferenceID != "" {
		ref := p.ReferenceID
		entry.ReferenceID = &ref
	}
	entry.Hash = entry.GenerateHash()

	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		if errutil.IsUniqueViolation(err) {
			log.Error("duplicate ledger entry rejected",
				zap.String("member_id", p.MemberID),
				zap.String("reason", string(p.Reason)),
				zap.String("reference_id", p.ReferenceID),
				zap.Error(err),
			)
			return nil, errutil.Integrity("ledger entry already exists for this reference", err)
		}
		log.Error("failed to insert ledger entry", zap.Error(err))
		return nil, err
	}

	res := tx.WithContext(ctx).
		Model(&MemberBalance{}).
		Where("member_id = ?", p.MemberID).
		Updates(map[string]any{
			"balance":       gorm.Expr("balance + ?", p.Amount),
			"entry_count":   gorm.Expr("entry_count + 1"),
			"last_hash":     entry.Hash,
			"last_entry_id": entry.ID,
			"updated_at":    entry.CreatedAt,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	log.Info("ledger entry posted",
		zap.String("entry_id", entry.ID),
		zap.String("member_id", entry.MemberID),
		zap.Int64("amount", entry.Amount),
		zap.String("reason", string(entry.Reason)),
	)
	return entry, nil
}

func (s *Service) sum(ctx context.Context, tx *gorm.DB, memberID string) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("member_id = ?", memberID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// Sum returns the member's balance computed from the entries, inside tx when given.
func (s *Service) Sum(ctx context.Context, tx *gorm.DB, memberID string) (int64, error) {
	if tx == nil {
		tx = s.db
	}
	return s.sum(ctx, tx, memberID)
}

// Balance is always the sum of the member's entries.
func (s *Service) Balance(ctx context.Context, memberID string) (*BalanceView, error) {
	total, err := s.Sum(ctx, nil, memberID)
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to sum ledger", zap.Error(err))
		return nil, err
	}
	return &BalanceView{MemberID: memberID, Balance: total}, nil
}

// FindByReference returns the entry posted for (reason, referenceID), or nil
// when there is none. A nil tx reads outside any transaction.
func (s *Service) FindByReference(ctx context.Context, tx *gorm.DB, reason Reason, referenceID string) (*LedgerEntry, error) {
	if tx == nil {
		tx = s.db
	}
	return s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{Reason: reason, ReferenceID: &referenceID})
}

func (s *Service) ListEntries(ctx context.Context, memberID string, page pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	scope, err := page.Scope("id")
	if err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err)
	}

	entries, err := s.ledger.Find(ctx, &LedgerEntry{MemberID: memberID}, scope)
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to list ledger entries", zap.Error(err))
		return nil, nil, err
	}

	entries, info := pagination.Page(entries, page.Size(), func(e *LedgerEntry) string { return e.ID })
	return entries, info, nil
}

// VerifyChain recomputes every hash of the member's chain in sequence order.
func (s *Service) VerifyChain(ctx context.Context, memberID string) (*ChainReport, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{MemberID: memberID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "asc",
	}))
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to query Find entries", zap.Error(err))
		return nil, err
	}

	return verify(memberID, entries), nil
}

func verify(memberID string, entries []*LedgerEntry) *ChainReport {
	report := &ChainReport{MemberID: memberID, Valid: true, Entries: len(entries)}

	var lastHash string
	for i, entry := range entries {
		if entry.Sequence != int64(i+1) || entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			report.Valid = false
			report.BrokenAt = entry.ID
			return report
		}
		lastHash = entry.Hash
	}
	return report
}

// Reconcile compares the projection with the entry stream and rewrites the
// projection when they disagree.
func (s *Service) Reconcile(ctx context.Context, memberID string) (*ReconcileReport, error) {
	log := zap.L().With(traceFields(ctx)...)
	report := &ReconcileReport{MemberID: memberID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mb, err := s.LockMember(ctx, tx, memberID)
		if err != nil {
			return err
		}

		actual, err := s.sum(ctx, tx, memberID)
		if err != nil {
			return err
		}

		count, err := s.ledger.WithTrx(tx).Count(ctx, &LedgerEntry{MemberID: memberID})
		if err != nil {
			return err
		}

		last, err := s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{MemberID: memberID}, option.WithSortBy(option.QuerySortBy{
			SortBy:  "sequence",
			OrderBy: "desc",
		}))
		if err != nil {
			return err
		}

		var lastHash, lastID string
		if last != nil {
			lastHash, lastID = last.Hash, last.ID
		}

		report.Projected = mb.Balance
		report.Actual = actual
		report.Drift = mb.Balance - actual

		if report.Drift == 0 && mb.EntryCount == count && mb.LastHash == lastHash {
			return nil
		}

		report.Repaired = true
		return tx.WithContext(ctx).
			Model(&MemberBalance{}).
			Where("member_id = ?", memberID).
			Updates(map[string]any{
				"balance":       actual,
				"entry_count":   count,
				"last_hash":     lastHash,
				"last_entry_id": lastID,
				"updated_at":    s.now().UTC(),
			}).Error
	})
	if err != nil {
		log.Error("failed to reconcile member balance", zap.String("member_id", memberID), zap.Error(err))
		return nil, err
	}

	if report.Repaired {
		log.Warn("member balance projection repaired",
			zap.String("member_id", memberID),
			zap.Int64("projected", report.Projected),
			zap.Int64("actual", report.Actual),
		)
	}
	return report, nil
}
