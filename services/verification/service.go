package verification

import (
	"context"
	"encoding/json"
	"time"

	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/featureflags"
	"smallbiznis-missions/pkg/repository"
	"smallbiznis-missions/services/ledger"
	"smallbiznis-missions/services/participation"
	"smallbiznis-missions/services/quota"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "verification_decisions_total",
	Help: "Applied verification decisions by decision and source.",
}, []string{"decision", "source"})

const maxEvidenceItems = 20

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	participations *participation.Service
	quota          *quota.Service
	ledger         *ledger.Service
	checker        Checker
	flags          featureflags.FeatureFlag

	evidences repository.Repository[VerificationEvidence]
	results   repository.Repository[VerificationResult]
}

type ServiceParams struct {
	fx.In
	DB             *gorm.DB
	Node           *snowflake.Node
	Participations *participation.Service
	Quota          *quota.Service
	Ledger         *ledger.Service
	Checker        Checker
	Flags          featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}
	return &Service{
		db:             p.DB,
		node:           p.Node,
		now:            time.Now,
		participations: p.Participations,
		quota:          p.Quota,
		ledger:         p.Ledger,
		checker:        p.Checker,
		flags:          flags,
		evidences:      repository.ProvideStore[VerificationEvidence](p.DB),
		results:        repository.ProvideStore[VerificationResult](p.DB),
	}
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// SubmitEvidence stores the evidence and moves the participation to
// PENDING_REVIEW. The automatic check then runs on the committed row and
// may decide it or hand it to staff.
func (s *Service) SubmitEvidence(ctx context.Context, req SubmitRequest) (*participation.Participation, error) {
	log := zap.L().With(traceFields(ctx)...).With(zap.String("participation_id", req.ParticipationID))

	if len(req.Items) == 0 && req.ProofText == "" {
		return nil, errutil.BadRequest("at least one evidence item or a proof text is required", nil)
	}
	if len(req.Items) > maxEvidenceItems {
		return nil, errutil.BadRequest("too many evidence items", nil)
	}

	now := s.now().UTC()
	rows := make([]*VerificationEvidence, 0, len(req.Items))
	for _, item := range req.Items {
		if !item.Type.Valid() {
			return nil, errutil.BadRequest("unsupported evidence type "+string(item.Type), nil)
		}
		if item.Reference == "" {
			return nil, errutil.BadRequest("evidence reference is required", nil)
		}

		var meta datatypes.JSON
		if len(item.Metadata) > 0 {
			raw, err := json.Marshal(item.Metadata)
			if err != nil {
				return nil, errutil.BadRequest("invalid evidence metadata", err)
			}
			meta = raw
		}

		rows = append(rows, &VerificationEvidence{
			ID:              s.node.Generate().String(),
			ParticipationID: req.ParticipationID,
			Type:            item.Type,
			FileRef:         item.Reference,
			Metadata:        meta,
			CreatedAt:       now,
		})
	}

	var p *participation.Participation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = s.participations.MarkSubmitted(ctx, tx, req.ParticipationID, req.MemberID, req.ProofText, now)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return s.evidences.WithTrx(tx).BatchCreate(ctx, rows)
	})
	if err != nil {
		return nil, err
	}
	log.Info("evidence submitted", zap.Int("items", len(rows)))

	return s.autoCheck(ctx, p, req.Items)
}

func (s *Service) autoCheck(ctx context.Context, p *participation.Participation, items []EvidenceItem) (*participation.Participation, error) {
	log := zap.L().With(traceFields(ctx)...).With(zap.String("participation_id", p.ID))
	now := s.now().UTC()

	outcome, reason := AutoInconclusive, ""
	if s.flags.Enabled(ctx, featureflags.AutoVerification, p.MemberID, true) {
		day, err := s.quota.GetDay(ctx, p.MissionDayID)
		if err != nil {
			log.Warn("mission day unavailable for auto check", zap.Error(err))
		} else {
			outcome, reason = s.checker.Check(ctx, CheckInput{Day: day, Participation: p, Items: items, Now: now})
		}
	}

	switch outcome {
	case AutoApprove, AutoReject:
		req := DecideRequest{ParticipationID: p.ID, Decision: DecisionApprove, Automatic: true}
		if outcome == AutoReject {
			req.Decision = DecisionReject
			req.Reason = &reason
		}
		decided, err := s.Decide(ctx, req)
		if err == nil {
			return decided, nil
		}
		// a concurrent staff decision or cancel got there first
		if errutil.IsInvalidTransition(err) {
			return s.participations.Get(ctx, p.ID)
		}
		// the submission is committed; staff can still decide it from PENDING_REVIEW
		log.Error("automatic decision failed", zap.String("decision", string(req.Decision)), zap.Error(err))
		return p, nil

	default:
		escalated, err := s.participations.EscalateToManual(ctx, s.db, p.ID, now)
		switch {
		case err == nil:
			return escalated, nil
		case errutil.IsInvalidTransition(err):
			return s.participations.Get(ctx, p.ID)
		default:
			log.Error("failed to escalate to manual review", zap.Error(err))
			return p, nil
		}
	}
}

// Decide applies a staff or automatic decision. Repeating the decision
// already applied is a no-op; a different decision on a decided row is an
// invalid transition. Approval posts the reward in the same transaction.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (*participation.Participation, error) {
	log := zap.L().With(traceFields(ctx)...).With(zap.String("participation_id", req.ParticipationID))

	var target participation.Status
	switch req.Decision {
	case DecisionApprove:
		target = participation.StatusApproved
	case DecisionReject:
		target = participation.StatusRejected
		if req.Reason == nil || *req.Reason == "" {
			return nil, errutil.ValidationFailed("rejection requires a reason", nil)
		}
	default:
		return nil, errutil.BadRequest("decision must be APPROVE or REJECT", nil)
	}

	now := s.now().UTC()
	var (
		p       *participation.Participation
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, changed, err = s.participations.ApplyDecision(ctx, tx, req.ParticipationID, target, req.Reason, now)
		if err != nil || !changed {
			return err
		}

		result := &VerificationResult{
			ID:              s.node.Generate().String(),
			ParticipationID: p.ID,
			Decision:        req.Decision,
			DeciderID:       req.DeciderID,
			Reason:          req.Reason,
			Automatic:       req.Automatic,
			DecidedAt:       now,
		}
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"decision", "decider_id", "reason", "automatic", "decided_at", "updated_at"}),
		}).Create(result).Error; err != nil {
			return err
		}

		if target != participation.StatusApproved {
			return nil
		}
		_, err = s.ledger.Post(ctx, tx, ledger.PostParams{
			MemberID:    p.MemberID,
			Amount:      p.RewardAmount,
			Reason:      ledger.ReasonMissionReward,
			ReferenceID: p.ID,
			Description: "mission reward " + p.Code,
		})
		return err
	})
	if err != nil {
		if !errutil.IsInvalidTransition(err) {
			log.Error("failed to apply decision", zap.Error(err))
		}
		return nil, err
	}

	if changed {
		source := "staff"
		if req.Automatic {
			source = "auto"
		}
		decisionsTotal.WithLabelValues(string(req.Decision), source).Inc()
		log.Info("participation decided", zap.String("decision", string(req.Decision)), zap.String("source", source))
	}
	return p, nil
}

func (s *Service) GetResult(ctx context.Context, participationID string) (*VerificationResult, error) {
	if participationID == "" {
		return nil, errutil.NotFound("verification result not found", nil)
	}
	r, err := s.results.FindOne(ctx, &VerificationResult{ParticipationID: participationID})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errutil.NotFound("verification result not found", nil)
	}
	return r, nil
}

func (s *Service) ListEvidence(ctx context.Context, participationID string) ([]*VerificationEvidence, error) {
	if participationID == "" {
		return nil, errutil.NotFound("participation not found", nil)
	}
	return s.evidences.Find(ctx, &VerificationEvidence{ParticipationID: participationID})
}
