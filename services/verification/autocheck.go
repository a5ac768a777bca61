package verification

import (
	"context"
	"time"

	"smallbiznis-missions/pkg/celengine"
	"smallbiznis-missions/services/participation"
	"smallbiznis-missions/services/quota"

	"go.uber.org/zap"
)

// Checker is the automatic verification step. It never fails: anything it
// cannot decide comes back inconclusive.
type Checker interface {
	Check(ctx context.Context, in CheckInput) (AutoOutcome, string)
}

type CheckInput struct {
	Day           *quota.MissionDay
	Participation *participation.Participation
	Items         []EvidenceItem
	Now           time.Time
}

// CELChecker runs the mission day's reject rule, then its approve rule,
// against the submitted evidence.
type CELChecker struct{}

func NewCELChecker() Checker {
	return CELChecker{}
}

func (CELChecker) Check(ctx context.Context, in CheckInput) (AutoOutcome, string) {
	if in.Day == nil || (in.Day.AutoRejectRule == "" && in.Day.AutoApproveRule == "") {
		return AutoInconclusive, ""
	}

	attrs := evidenceAttributes(in)
	log := zap.L().With(traceFields(ctx)...).With(zap.String("participation_id", in.Participation.ID))

	if in.Day.AutoRejectRule != "" {
		matched, err := celengine.Evaluate(in.Day.AutoRejectRule, attrs)
		if err != nil {
			log.Warn("auto reject rule failed", zap.Error(err))
			return AutoInconclusive, ""
		}
		if matched {
			return AutoReject, "evidence matched the automatic rejection rule"
		}
	}

	if in.Day.AutoApproveRule != "" {
		matched, err := celengine.Evaluate(in.Day.AutoApproveRule, attrs)
		if err != nil {
			log.Warn("auto approve rule failed", zap.Error(err))
			return AutoInconclusive, ""
		}
		if matched {
			return AutoApprove, ""
		}
	}

	return AutoInconclusive, ""
}

func evidenceAttributes(in CheckInput) map[string]any {
	types := make([]string, 0, len(in.Items))
	metadata := map[string]any{}
	for _, item := range in.Items {
		types = append(types, string(item.Type))
		for k, v := range item.Metadata {
			metadata[k] = v
		}
	}

	p := in.Participation
	elapsed := int64(0)
	if !p.CreatedAt.IsZero() {
		elapsed = int64(in.Now.Sub(p.CreatedAt) / time.Second)
	}

	return map[string]any{
		celengine.VarEvidence: map[string]any{
			"count":      int64(len(in.Items)),
			"types":      types,
			"metadata":   metadata,
			"proof_text": p.ProofText,
		},
		celengine.VarMissionType:    p.MissionType,
		celengine.VarMemberID:       p.MemberID,
		celengine.VarElapsedSeconds: elapsed,
	}
}
