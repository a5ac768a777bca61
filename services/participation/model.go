package participation

import "time"

type Status string

const (
	StatusInProgress    Status = "IN_PROGRESS"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusManualReview  Status = "MANUAL_REVIEW"
	StatusApproved      Status = "APPROVED"
	StatusRejected      Status = "REJECTED"
	StatusExpired       Status = "EXPIRED"
	StatusCanceled      Status = "CANCELED"
)

// transitions lists every edge of the participation lifecycle.
var transitions = map[Status][]Status{
	StatusInProgress:    {StatusPendingReview, StatusExpired, StatusCanceled},
	StatusPendingReview: {StatusApproved, StatusRejected, StatusManualReview, StatusCanceled},
	StatusManualReview:  {StatusApproved, StatusRejected, StatusCanceled},
}

func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired, StatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sources returns every status that may move to target.
func sources(target Status) []Status {
	var out []Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == target {
				out = append(out, from)
			}
		}
	}
	return out
}

var liveStatuses = []Status{StatusInProgress, StatusPendingReview, StatusManualReview}

type Participation struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	Code           string     `gorm:"column:code;index" json:"code"`
	MissionDayID   string     `gorm:"column:mission_day_id;not null;index:idx_participation_day_member" json:"mission_day_id"`
	MemberID       string     `gorm:"column:member_id;not null;index:idx_participation_day_member" json:"member_id"`
	MissionType    string     `gorm:"column:mission_type;not null" json:"mission_type"`
	RewardAmount   int64      `gorm:"column:reward_amount;not null" json:"reward_amount"`
	Status         Status     `gorm:"column:status;not null;index:idx_participation_status_expires" json:"status"`
	ExpiresAt      time.Time  `gorm:"column:expires_at;not null;index:idx_participation_status_expires" json:"expires_at"`
	SubmittedAt    *time.Time `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	DecidedAt      *time.Time `gorm:"column:decided_at" json:"decided_at,omitempty"`
	FailureReason  *string    `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	IdempotencyKey string     `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	ProofText      string     `gorm:"column:proof_text;type:text" json:"proof_text,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Participation) TableName() string { return "participations" }

type ClaimOutcome string

const (
	OutcomeGranted   ClaimOutcome = "GRANTED"
	OutcomeExhausted ClaimOutcome = "EXHAUSTED"
)

type ClaimRequest struct {
	MissionDayID   string
	MemberID       string
	IdempotencyKey string
}

// ClaimResult is returned for both outcomes; Participation is nil when exhausted.
type ClaimResult struct {
	Outcome       ClaimOutcome   `json:"outcome"`
	Participation *Participation `json:"participation,omitempty"`
	Replayed      bool           `json:"replayed"`
}

type ListFilter struct {
	MemberID     string `form:"member_id"`
	MissionDayID string `form:"mission_day_id"`
	Status       Status `form:"status"`
}

type CancelRequest struct {
	ActorID string
	Staff   bool
	Reason  string
}
