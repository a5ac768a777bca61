package payout

import (
	"context"
	"errors"
	"time"

	"smallbiznis-missions/pkg/db/option"
	"smallbiznis-missions/pkg/db/pagination"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/featureflags"
	"smallbiznis-missions/pkg/repository"
	"smallbiznis-missions/pkg/sequence"
	"smallbiznis-missions/services/ledger"
	"smallbiznis-missions/services/policy"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_requests_total",
		Help: "Payout request attempts by result.",
	}, []string{"result"})
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_settlements_total",
		Help: "Payout status changes by target status.",
	}, []string{"status"})
)

var errDuplicateKey = errors.New("idempotency key already stored")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	ledger *ledger.Service
	policy policy.Provider
	flags  featureflags.FeatureFlag
	seq    sequence.Generator

	accounts repository.Repository[PayoutAccount]
	requests repository.Repository[PayoutRequest]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Policy   policy.Provider
	Flags    featureflags.FeatureFlag `optional:"true"`
	Sequence sequence.Generator       `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}
	return &Service{
		db:     p.DB,
		node:   p.Node,
		now:    time.Now,
		ledger: p.Ledger,
		policy: p.Policy,
		flags:  flags,
		seq:    p.Sequence,

		accounts: repository.ProvideStore[PayoutAccount](p.DB),
		requests: repository.ProvideStore[PayoutRequest](p.DB),
	}
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

func (s *Service) reserved(ctx context.Context, tx *gorm.DB, memberID string) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).
		Model(&PayoutRequest{}).
		Where("member_id = ? AND status IN ?", memberID, reservingStatuses).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Service) available(ctx context.Context, tx *gorm.DB, memberID string) (*Balance, error) {
	balance, err := s.ledger.Sum(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.reserved(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		MemberID:  memberID,
		Balance:   balance,
		Reserved:  reserved,
		Available: balance - reserved,
	}, nil
}

// AvailableBalance is the ledger balance minus funds held by open requests.
func (s *Service) AvailableBalance(ctx context.Context, memberID string) (*Balance, error) {
	if memberID == "" {
		return nil, errutil.BadRequest("member_id is required", nil)
	}
	b, err := s.available(ctx, s.db, memberID)
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to compute available balance", zap.Error(err))
		return nil, err
	}
	return b, nil
}

// RequestPayout reserves amount for the member. The member's ledger row is
// locked while the available balance is checked, so two concurrent
// requests cannot both spend the same funds. A retried key returns the
// original request.
func (s *Service) RequestPayout(ctx context.Context, req CreateRequest) (*PayoutRequest, bool, error) {
	log := zap.L().With(traceFields(ctx)...).With(zap.String("member_id", req.MemberID))

	if req.MemberID == "" || req.AccountID == "" || req.IdempotencyKey == "" {
		return nil, false, errutil.BadRequest("member_id, account_id and idempotency key are required", nil)
	}
	if req.Amount <= 0 {
		return nil, false, errutil.BadRequest("amount must be positive", nil)
	}

	existing, err := s.requests.FindOne(ctx, &PayoutRequest{IdempotencyKey: req.IdempotencyKey})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return replay(existing, req)
	}

	if !s.flags.Enabled(ctx, featureflags.PayoutsEnabled, req.MemberID, true) {
		return nil, false, errutil.PolicyViolation("payouts are currently disabled")
	}

	minimum, err := s.policy.MinPayoutAmount(ctx)
	if err != nil {
		log.Error("failed to resolve minimum payout", zap.Error(err))
		return nil, false, errutil.ServiceUnavailable("policy unavailable", err)
	}
	if req.Amount < minimum {
		requestsTotal.WithLabelValues("below_minimum").Inc()
		return nil, false, errutil.PolicyViolation("amount is below the minimum payout")
	}

	account, err := s.account(ctx, req.MemberID, req.AccountID)
	if err != nil {
		return nil, false, err
	}

	id := s.node.Generate().String()
	pr := &PayoutRequest{
		ID:             id,
		Code:           s.nextCode(ctx, id),
		MemberID:       req.MemberID,
		AccountID:      account.ID,
		Amount:         req.Amount,
		Status:         StatusRequested,
		IdempotencyKey: req.IdempotencyKey,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.LockMember(ctx, tx, req.MemberID); err != nil {
			return err
		}

		b, err := s.available(ctx, tx, req.MemberID)
		if err != nil {
			return err
		}
		if req.Amount > b.Available {
			return errutil.PolicyViolation("amount exceeds available balance")
		}

		if err := s.requests.WithTrx(tx).Create(ctx, pr); err != nil {
			if errutil.IsUniqueViolation(err) {
				return errDuplicateKey
			}
			return err
		}
		return nil
	})

	switch {
	case err == nil:
		requestsTotal.WithLabelValues("created").Inc()
		log.Info("payout requested", zap.String("payout_id", pr.ID), zap.Int64("amount", pr.Amount))
		return pr, false, nil

	case errors.Is(err, errDuplicateKey):
		existing, err := s.requests.FindOne(ctx, &PayoutRequest{IdempotencyKey: req.IdempotencyKey})
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, errutil.Internal("idempotent payout vanished", nil)
		}
		return replay(existing, req)

	case errutil.IsPolicyViolation(err):
		requestsTotal.WithLabelValues("insufficient").Inc()
		return nil, false, err

	default:
		log.Error("failed to request payout", zap.Error(err))
		return nil, false, err
	}
}

func replay(existing *PayoutRequest, req CreateRequest) (*PayoutRequest, bool, error) {
	if existing.MemberID != req.MemberID || existing.AccountID != req.AccountID || existing.Amount != req.Amount {
		return nil, false, errutil.Conflict("idempotency key already used for a different payout", nil)
	}
	requestsTotal.WithLabelValues("replayed").Inc()
	return existing, true, nil
}

func (s *Service) nextCode(ctx context.Context, id string) string {
	if s.seq != nil {
		code, err := s.seq.NextPayoutCode(ctx)
		if err == nil {
			return code
		}
		zap.L().Warn("sequence unavailable, falling back to id", zap.Error(err))
	}
	return "PO-" + id
}

func (s *Service) account(ctx context.Context, memberID, accountID string) (*PayoutAccount, error) {
	account, err := s.accounts.FindOne(ctx, &PayoutAccount{ID: accountID})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errutil.NotFound("payout account not found", nil)
	}
	if account.MemberID != memberID {
		return nil, errutil.Forbidden("payout account belongs to another member", nil)
	}
	return account, nil
}

// Settle moves a request along REQUESTED -> APPROVED -> PAID, or to
// REJECTED. The PAYOUT debit is posted when the request is paid; rejecting
// a paid request checks that debit and posts the matching PAYOUT_REVERSAL.
// Settling to the current status is a no-op.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (*PayoutRequest, error) {
	log := zap.L().With(traceFields(ctx)...).With(zap.String("payout_id", req.RequestID))

	switch req.Outcome {
	case StatusApproved, StatusPaid, StatusRejected:
	default:
		return nil, errutil.BadRequest("outcome must be APPROVED, PAID or REJECTED", nil)
	}
	if req.RequestID == "" {
		return nil, errutil.NotFound("payout request not found", nil)
	}

	now := s.now().UTC()
	var (
		pr      *PayoutRequest
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pr, err = s.requests.WithTrx(tx).FindOne(ctx, &PayoutRequest{ID: req.RequestID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if pr == nil {
			return errutil.NotFound("payout request not found", nil)
		}
		if pr.Status == req.Outcome {
			return nil
		}
		if !CanTransition(pr.Status, req.Outcome) {
			return errutil.InvalidTransition("payout is " + string(pr.Status) + ", cannot move to " + string(req.Outcome))
		}

		from := pr.Status
		updates := map[string]any{
			"status":     req.Outcome,
			"updated_at": now,
		}
		if req.ActorID != "" {
			updates["settled_by"] = req.ActorID
		}

		switch req.Outcome {
		case StatusApproved:
			updates["approved_at"] = now

		case StatusPaid:
			entry, err := s.ledger.Post(ctx, tx, ledger.PostParams{
				MemberID:    pr.MemberID,
				Amount:      -pr.Amount,
				Reason:      ledger.ReasonPayout,
				ReferenceID: pr.ID,
				Description: "payout " + pr.Code,
			})
			if err != nil {
				return err
			}
			updates["paid_at"] = now
			updates["debit_entry_id"] = entry.ID

		case StatusRejected:
			reason := req.Reason
			if reason == "" {
				reason = "rejected"
			}
			updates["rejected_at"] = now
			updates["failure_reason"] = reason

			if from == StatusPaid {
				debit, err := s.ledger.FindByReference(ctx, tx, ledger.ReasonPayout, pr.ID)
				if err != nil {
					return err
				}
				if debit == nil || debit.MemberID != pr.MemberID || debit.Amount != -pr.Amount {
					return errutil.Integrity("paid payout "+pr.ID+" has no matching debit entry", nil)
				}

				entry, err := s.ledger.Post(ctx, tx, ledger.PostParams{
					MemberID:    pr.MemberID,
					Amount:      pr.Amount,
					Reason:      ledger.ReasonPayoutReversal,
					ReferenceID: pr.ID,
					Description: "payout returned " + pr.Code,
				})
				if err != nil {
					return err
				}
				updates["reversal_entry_id"] = entry.ID
			}
		}

		res := tx.WithContext(ctx).
			Model(&PayoutRequest{}).
			Where("id = ? AND status = ?", pr.ID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errutil.InvalidTransition("payout changed concurrently")
		}
		changed = true

		pr, err = s.requests.WithTrx(tx).FindOne(ctx, &PayoutRequest{ID: pr.ID})
		return err
	})
	if err != nil {
		if !errutil.IsInvalidTransition(err) && errutil.StatusOf(err) != errutil.StatusNotFound {
			log.Error("failed to settle payout", zap.Error(err))
		}
		return nil, err
	}

	if changed {
		settlementsTotal.WithLabelValues(string(pr.Status)).Inc()
		log.Info("payout settled", zap.String("status", string(pr.Status)), zap.String("actor_id", req.ActorID))
	}
	return pr, nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (*PayoutRequest, error) {
	if id == "" {
		return nil, errutil.NotFound("payout request not found", nil)
	}
	pr, err := s.requests.FindOne(ctx, &PayoutRequest{ID: id})
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, errutil.NotFound("payout request not found", nil)
	}
	return pr, nil
}

func (s *Service) ListRequests(ctx context.Context, filter ListFilter, page pagination.Pagination) ([]*PayoutRequest, *pagination.PageInfo, error) {
	scope, err := page.Scope("id")
	if err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err)
	}

	var conds []option.Condition
	if filter.Pending {
		conds = append(conds, option.Condition{Field: "status", Operator: option.IN, Value: reservingStatuses})
	}
	if filter.MinAmount > 0 {
		conds = append(conds, option.Condition{Field: "amount", Operator: option.GTE, Value: filter.MinAmount})
	}

	query := &PayoutRequest{MemberID: filter.MemberID, Status: filter.Status}
	rows, err := s.requests.Find(ctx, query, option.ApplyOperator(conds...), scope)
	if err != nil {
		return nil, nil, err
	}

	rows, info := pagination.Page(rows, page.Size(), func(pr *PayoutRequest) string { return pr.ID })
	return rows, info, nil
}

// RegisterAccount adds a destination. A member's first account becomes primary.
func (s *Service) RegisterAccount(ctx context.Context, req RegisterAccountRequest) (*PayoutAccount, error) {
	if req.MemberID == "" || req.Provider == "" || req.AccountName == "" || req.AccountNumber == "" {
		return nil, errutil.BadRequest("provider, account_name and account_number are required", nil)
	}

	account := &PayoutAccount{
		ID:            s.node.Generate().String(),
		MemberID:      req.MemberID,
		Provider:      req.Provider,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.accounts.WithTrx(tx).Count(ctx, &PayoutAccount{MemberID: req.MemberID})
		if err != nil {
			return err
		}
		account.IsPrimary = count == 0
		return s.accounts.WithTrx(tx).Create(ctx, account)
	})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to register payout account", zap.Error(err))
		return nil, err
	}
	return account, nil
}

// SetPrimary clears the flag on every account of the member before setting
// it on accountID, in one transaction.
func (s *Service) SetPrimary(ctx context.Context, memberID, accountID string) (*PayoutAccount, error) {
	if _, err := s.account(ctx, memberID, accountID); err != nil {
		return nil, err
	}

	var account *PayoutAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Model(&PayoutAccount{}).
			Where("member_id = ? AND is_primary = ?", memberID, true).
			Update("is_primary", false).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).
			Model(&PayoutAccount{}).
			Where("id = ? AND member_id = ?", accountID, memberID).
			Update("is_primary", true).Error; err != nil {
			return err
		}

		var err error
		account, err = s.accounts.WithTrx(tx).FindOne(ctx, &PayoutAccount{ID: accountID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) ListAccounts(ctx context.Context, memberID string) ([]*PayoutAccount, error) {
	if memberID == "" {
		return nil, errutil.BadRequest("member_id is required", nil)
	}
	return s.accounts.Find(ctx, &PayoutAccount{MemberID: memberID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow:   map[string]bool{"created_at": true},
	}))
}
