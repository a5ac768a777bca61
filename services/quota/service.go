package quota

import (
	"context"
	"errors"
	"time"

	"smallbiznis-missions/pkg/celengine"
	"smallbiznis-missions/pkg/db/option"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	days repository.Repository[MissionDay]
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
		days: repository.ProvideStore[MissionDay](p.DB),
	}
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// TryClaim takes one slot from the day inside tx. It returns nil when a slot
// was granted and errutil.ErrExhausted when none is left. The decrement is a
// single conditional update so concurrent claimants can never overdraw.
func (s *Service) TryClaim(ctx context.Context, tx *gorm.DB, missionDayID string) error {
	res := tx.WithContext(ctx).
		Model(&MissionDay{}).
		Where("id = ? AND status = ? AND quota_remaining > 0", missionDayID, DayActive).
		UpdateColumn("quota_remaining", gorm.Expr("quota_remaining - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	day, err := s.days.WithTrx(tx).FindOne(ctx, &MissionDay{ID: missionDayID})
	if err != nil {
		return err
	}
	if day == nil {
		return errutil.NotFound("mission day not found", nil)
	}
	if day.Status != DayActive {
		return errutil.PolicyViolation("mission day is not active")
	}
	return errutil.ErrExhausted
}

// LockDay returns the day row locked for update inside tx. Claims take it
// before checking the member's live participations, which serialises
// claimants on the same day.
func (s *Service) LockDay(ctx context.Context, tx *gorm.DB, id string) (*MissionDay, error) {
	day, err := s.days.WithTrx(tx).FindOne(ctx, &MissionDay{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if day == nil {
		return nil, errutil.NotFound("mission day not found", nil)
	}
	return day, nil
}

func (s *Service) GetDay(ctx context.Context, id string) (*MissionDay, error) {
	if id == "" {
		return nil, errutil.NotFound("mission day not found", nil)
	}
	day, err := s.days.FindOne(ctx, &MissionDay{ID: id})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to query mission day", zap.Error(err))
		return nil, err
	}
	if day == nil {
		return nil, errutil.NotFound("mission day not found", nil)
	}
	return day, nil
}

func (s *Service) OpenDay(ctx context.Context, req OpenDayRequest) (*MissionDay, error) {
	log := zap.L().With(traceFields(ctx)...)

	if req.CampaignID == "" || req.MissionType == "" {
		return nil, errutil.BadRequest("campaign_id and mission_type are required", nil)
	}
	if req.QuotaTotal < 0 {
		return nil, errutil.BadRequest("quota_total must be >= 0", nil)
	}
	if req.RewardAmount <= 0 {
		return nil, errutil.BadRequest("reward_amount must be > 0", nil)
	}
	for field, rule := range map[string]string{"auto_approve_rule": req.AutoApproveRule, "auto_reject_rule": req.AutoRejectRule} {
		if rule == "" {
			continue
		}
		if err := celengine.ValidateExpression(rule); err != nil {
			return nil, errutil.ValidationFailed("invalid rule expression", err, errutil.WithDetails(errutil.Detail{Field: field, Message: err.Error()}))
		}
	}

	day := &MissionDay{
		ID:              s.node.Generate().String(),
		CampaignID:      req.CampaignID,
		Date:            datatypes.Date(Day(req.Date)),
		MissionType:     slug.Make(req.MissionType),
		QuotaTotal:      req.QuotaTotal,
		QuotaRemaining:  req.QuotaTotal,
		RewardAmount:    req.RewardAmount,
		Status:          DayActive,
		AutoApproveRule: req.AutoApproveRule,
		AutoRejectRule:  req.AutoRejectRule,
	}

	if err := s.days.Create(ctx, day); err != nil {
		if errutil.IsUniqueViolation(err) {
			return nil, errutil.Conflict("mission day already exists for this campaign and date", nil)
		}
		log.Error("failed to create mission day", zap.Error(err))
		return nil, err
	}

	log.Info("mission day opened",
		zap.String("mission_day_id", day.ID),
		zap.String("campaign_id", day.CampaignID),
		zap.Int("quota_total", day.QuotaTotal),
	)
	return day, nil
}

// CloseDay stops further claims. Closing a closed day is a no-op.
func (s *Service) CloseDay(ctx context.Context, id string) (*MissionDay, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).
		Model(&MissionDay{}).
		Where("id = ? AND status = ?", id, DayActive).
		Updates(map[string]any{"status": DayClosed, "closed_at": now, "updated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}

	return s.GetDay(ctx, id)
}

// ResetDay is the administrative path that may raise the remaining quota.
func (s *Service) ResetDay(ctx context.Context, id string, req ResetDayRequest) (*MissionDay, error) {
	if req.QuotaTotal < 0 {
		return nil, errutil.BadRequest("quota_total must be >= 0", nil)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		day, err := s.LockDay(ctx, tx, id)
		if err != nil {
			return err
		}
		if day.Status != DayActive {
			return errutil.InvalidTransition("closed mission days cannot be reset")
		}

		return s.days.WithTrx(tx).Update(ctx, id, map[string]any{
			"quota_total":     req.QuotaTotal,
			"quota_remaining": req.QuotaTotal,
			"updated_at":      s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().With(traceFields(ctx)...).Info("mission day quota reset", zap.String("mission_day_id", id), zap.Int("quota_total", req.QuotaTotal))
	return s.GetDay(ctx, id)
}

// CloseElapsed closes every active day whose date is before now's UTC date.
func (s *Service) CloseElapsed(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).
		Model(&MissionDay{}).
		Where("status = ? AND mission_date < ?", DayActive, datatypes.Date(Day(now))).
		Updates(map[string]any{"status": DayClosed, "closed_at": now, "updated_at": now})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// IsExhausted reports whether err is the no-slot-left outcome of TryClaim.
func IsExhausted(err error) bool {
	return errors.Is(err, errutil.ErrExhausted)
}
