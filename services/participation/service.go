package participation

import (
	"context"
	"errors"
	"time"

	"smallbiznis-missions/pkg/db/pagination"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/repository"
	"smallbiznis-missions/pkg/sequence"
	"smallbiznis-missions/services/policy"
	"smallbiznis-missions/services/quota"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_claims_total",
		Help: "Claim attempts by outcome.",
	}, []string{"outcome"})
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_transitions_total",
		Help: "Participation status changes by target status.",
	}, []string{"status"})
)

var errDuplicateKey = errors.New("idempotency key already stored")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	quota  *quota.Service
	policy policy.Provider
	seq    sequence.Generator

	participations repository.Repository[Participation]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Quota    *quota.Service
	Policy   policy.Provider
	Sequence sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		now:    time.Now,
		quota:  p.Quota,
		policy: p.Policy,
		seq:    p.Sequence,

		participations: repository.ProvideStore[Participation](p.DB),
	}
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// Claim takes a slot on the mission day and creates the participation in
// one transaction. Running out of slots is reported through the result,
// not as an error. A retried key returns the participation it created.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	log := zap.L().With(traceFields(ctx)...).With(
		zap.String("mission_day_id", req.MissionDayID),
		zap.String("member_id", req.MemberID),
	)

	if req.MissionDayID == "" || req.MemberID == "" || req.IdempotencyKey == "" {
		return nil, errutil.BadRequest("mission_day_id, member_id and idempotency key are required", nil)
	}

	existing, err := s.participations.FindOne(ctx, &Participation{IdempotencyKey: req.IdempotencyKey})
	if err != nil {
		log.Error("failed to look up idempotency key", zap.Error(err))
		return nil, err
	}
	if existing != nil {
		return replay(existing, req)
	}

	day, err := s.quota.GetDay(ctx, req.MissionDayID)
	if err != nil {
		return nil, err
	}

	timeout, err := s.policy.TimeoutFor(ctx, day.MissionType)
	if err != nil {
		log.Error("failed to resolve participation timeout", zap.Error(err))
		return nil, errutil.ServiceUnavailable("policy unavailable", err)
	}
	if timeout <= 0 {
		return nil, errutil.Internal("participation timeout must be positive", nil)
	}

	now := s.now().UTC()
	id := s.node.Generate().String()
	p := &Participation{
		ID:             id,
		Code:           s.nextCode(ctx, id),
		MissionDayID:   day.ID,
		MemberID:       req.MemberID,
		MissionType:    day.MissionType,
		RewardAmount:   day.RewardAmount,
		Status:         StatusInProgress,
		ExpiresAt:      now.Add(timeout),
		IdempotencyKey: req.IdempotencyKey,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the day lock makes the live check and the insert atomic per member
		if _, err := s.quota.LockDay(ctx, tx, day.ID); err != nil {
			return err
		}

		var live int64
		if err := tx.Model(&Participation{}).
			Where("mission_day_id = ? AND member_id = ? AND status IN ?", day.ID, req.MemberID, liveStatuses).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return errutil.PolicyViolation("member already has an active participation on this mission day")
		}

		if err := s.quota.TryClaim(ctx, tx, day.ID); err != nil {
			return err
		}

		if err := s.participations.WithTrx(tx).Create(ctx, p); err != nil {
			if errutil.IsUniqueViolation(err) {
				return errDuplicateKey
			}
			return err
		}
		return nil
	})

	switch {
	case err == nil:
		claimsTotal.WithLabelValues(string(OutcomeGranted)).Inc()
		log.Info("participation claimed", zap.String("participation_id", p.ID), zap.Time("expires_at", p.ExpiresAt))
		return &ClaimResult{Outcome: OutcomeGranted, Participation: p}, nil

	case quota.IsExhausted(err):
		claimsTotal.WithLabelValues(string(OutcomeExhausted)).Inc()
		log.Debug("mission day exhausted")
		return &ClaimResult{Outcome: OutcomeExhausted}, nil

	case errors.Is(err, errDuplicateKey):
		existing, err := s.participations.FindOne(ctx, &Participation{IdempotencyKey: req.IdempotencyKey})
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errutil.Internal("idempotent claim vanished", nil)
		}
		return replay(existing, req)

	default:
		return nil, err
	}
}

func replay(existing *Participation, req ClaimRequest) (*ClaimResult, error) {
	if existing.MemberID != req.MemberID || existing.MissionDayID != req.MissionDayID {
		return nil, errutil.Conflict("idempotency key already used for a different claim", nil)
	}
	claimsTotal.WithLabelValues("REPLAYED").Inc()
	return &ClaimResult{Outcome: OutcomeGranted, Participation: existing, Replayed: true}, nil
}

func (s *Service) nextCode(ctx context.Context, id string) string {
	if s.seq != nil {
		code, err := s.seq.NextParticipationCode(ctx)
		if err == nil {
			return code
		}
		zap.L().Warn("sequence unavailable, falling back to id", zap.Error(err))
	}
	return "PTC-" + id
}

func (s *Service) Get(ctx context.Context, id string) (*Participation, error) {
	return s.get(ctx, s.db, id)
}

func (s *Service) get(ctx context.Context, tx *gorm.DB, id string) (*Participation, error) {
	if id == "" {
		return nil, errutil.NotFound("participation not found", nil)
	}
	p, err := s.participations.WithTrx(tx).FindOne(ctx, &Participation{ID: id})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("participation not found", nil)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter, page pagination.Pagination) ([]*Participation, *pagination.PageInfo, error) {
	scope, err := page.Scope("id")
	if err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err)
	}

	rows, err := s.participations.Find(ctx, &Participation{
		MemberID:     filter.MemberID,
		MissionDayID: filter.MissionDayID,
		Status:       filter.Status,
	}, scope)
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to list participations", zap.Error(err))
		return nil, nil, err
	}

	rows, info := pagination.Page(rows, page.Size(), func(p *Participation) string { return p.ID })
	return rows, info, nil
}

// update applies updates only while the row is in one of from. It reports
// whether this call moved the row.
func (s *Service) update(ctx context.Context, tx *gorm.DB, id string, from []Status, scope func(*gorm.DB) *gorm.DB, updates map[string]any) (bool, error) {
	q := tx.WithContext(ctx).Model(&Participation{}).Where("id = ? AND status IN ?", id, from)
	if scope != nil {
		q = scope(q)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		if to, ok := updates["status"].(Status); ok {
			transitionsTotal.WithLabelValues(string(to)).Inc()
		}
	}
	return res.RowsAffected == 1, nil
}

// MarkSubmitted moves an owned, unexpired IN_PROGRESS row to PENDING_REVIEW inside tx.
func (s *Service) MarkSubmitted(ctx context.Context, tx *gorm.DB, id, memberID, proof string, now time.Time) (*Participation, error) {
	now = now.UTC()
	moved, err := s.update(ctx, tx, id, []Status{StatusInProgress}, func(db *gorm.DB) *gorm.DB {
		return db.Where("member_id = ? AND expires_at > ?", memberID, now)
	}, map[string]any{
		"status":       StatusPendingReview,
		"submitted_at": now,
		"proof_text":   proof,
		"updated_at":   now,
	})
	if err != nil {
		return nil, err
	}

	p, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if moved {
		return p, nil
	}

	switch {
	case p.MemberID != memberID:
		return nil, errutil.Forbidden("participation belongs to another member", nil)
	case p.Status != StatusInProgress:
		return nil, errutil.InvalidTransition("participation is " + string(p.Status) + ", evidence can no longer be submitted")
	default:
		return nil, errutil.PolicyViolation("participation deadline has passed")
	}
}

// ApplyDecision moves a row under review to APPROVED or REJECTED. Deciding
// a row already in target returns it with changed=false.
func (s *Service) ApplyDecision(ctx context.Context, tx *gorm.DB, id string, target Status, reason *string, now time.Time) (p *Participation, changed bool, err error) {
	if target != StatusApproved && target != StatusRejected {
		return nil, false, errutil.BadRequest("decision must approve or reject", nil)
	}
	if target == StatusRejected && (reason == nil || *reason == "") {
		return nil, false, errutil.ValidationFailed("rejection requires a reason", nil)
	}

	now = now.UTC()
	moved, err := s.update(ctx, tx, id, []Status{StatusPendingReview, StatusManualReview}, nil, map[string]any{
		"status":         target,
		"decided_at":     now,
		"failure_reason": reason,
		"updated_at":     now,
	})
	if err != nil {
		return nil, false, err
	}

	p, err = s.get(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if moved {
		return p, true, nil
	}
	if p.Status == target {
		return p, false, nil
	}
	return nil, false, errutil.InvalidTransition("participation is " + string(p.Status) + ", cannot be " + string(target))
}

// EscalateToManual parks a PENDING_REVIEW row for staff review.
func (s *Service) EscalateToManual(ctx context.Context, tx *gorm.DB, id string, now time.Time) (*Participation, error) {
	moved, err := s.update(ctx, tx, id, []Status{StatusPendingReview}, nil, map[string]any{
		"status":     StatusManualReview,
		"updated_at": now.UTC(),
	})
	if err != nil {
		return nil, err
	}

	p, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if moved || p.Status == StatusManualReview {
		return p, nil
	}
	return nil, errutil.InvalidTransition("participation is " + string(p.Status) + ", cannot move to manual review")
}

// Cancel abandons a live participation. Members may only cancel their own,
// and an IN_PROGRESS row can no longer be canceled once its deadline has
// passed. The consumed quota slot is not returned.
func (s *Service) Cancel(ctx context.Context, id string, req CancelRequest) (*Participation, error) {
	now := s.now().UTC()
	reason := req.Reason
	if reason == "" {
		reason = "canceled"
	}

	// an IN_PROGRESS row past its deadline belongs to the sweeper
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("(status <> ? OR expires_at > ?)", StatusInProgress, now)
		if !req.Staff {
			db = db.Where("member_id = ?", req.ActorID)
		}
		return db
	}

	moved, err := s.update(ctx, s.db, id, sources(StatusCanceled), scope, map[string]any{
		"status":         StatusCanceled,
		"decided_at":     now,
		"failure_reason": reason,
		"updated_at":     now,
	})
	if err != nil {
		return nil, err
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Staff && p.MemberID != req.ActorID {
		return nil, errutil.Forbidden("participation belongs to another member", nil)
	}
	if moved {
		zap.L().With(traceFields(ctx)...).Info("participation canceled", zap.String("participation_id", id), zap.String("actor_id", req.ActorID))
		return p, nil
	}
	switch {
	case p.Status == StatusCanceled:
		return p, nil
	case p.Status == StatusInProgress && !p.ExpiresAt.After(now):
		return nil, errutil.PolicyViolation("participation deadline has passed")
	default:
		return nil, errutil.InvalidTransition("participation is " + string(p.Status) + ", cannot be canceled")
	}
}

// ExpireDue moves every IN_PROGRESS row whose deadline is at or before now
// to EXPIRED. It is the only path into EXPIRED.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	reason := "deadline elapsed"
	res := s.db.WithContext(ctx).
		Model(&Participation{}).
		Where("status = ? AND expires_at <= ?", StatusInProgress, now).
		Updates(map[string]any{
			"status":         StatusExpired,
			"decided_at":     now,
			"failure_reason": reason,
			"updated_at":     now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		transitionsTotal.WithLabelValues(string(StatusExpired)).Add(float64(res.RowsAffected))
	}
	return res.RowsAffected, nil
}
