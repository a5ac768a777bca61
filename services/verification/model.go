package verification

import (
	"time"

	"gorm.io/datatypes"
)

type EvidenceType string

const (
	EvidenceImage EvidenceType = "IMAGE"
	EvidenceVideo EvidenceType = "VIDEO"
	EvidenceOther EvidenceType = "OTHER"
)

func (t EvidenceType) Valid() bool {
	switch t {
	case EvidenceImage, EvidenceVideo, EvidenceOther:
		return true
	default:
		return false
	}
}

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// AutoOutcome is what the automatic check concluded.
type AutoOutcome string

const (
	AutoApprove      AutoOutcome = "APPROVE"
	AutoReject       AutoOutcome = "REJECT"
	AutoInconclusive AutoOutcome = "INCONCLUSIVE"
)

// VerificationEvidence is append-only.
type VerificationEvidence struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	ParticipationID string         `gorm:"column:participation_id;not null;index" json:"participation_id"`
	Type            EvidenceType   `gorm:"column:type;not null" json:"type"`
	FileRef         string         `gorm:"column:file_ref;not null" json:"file_ref"`
	Metadata        datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (VerificationEvidence) TableName() string { return "verification_evidences" }

// VerificationResult holds the decision metadata; the participation status
// stays the authoritative terminal marker.
type VerificationResult struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	ParticipationID string    `gorm:"column:participation_id;not null;uniqueIndex" json:"participation_id"`
	Decision        Decision  `gorm:"column:decision;not null" json:"decision"`
	DeciderID       *string   `gorm:"column:decider_id" json:"decider_id,omitempty"`
	Reason          *string   `gorm:"column:reason" json:"reason,omitempty"`
	Automatic       bool      `gorm:"column:automatic;not null;default:false" json:"automatic"`
	DecidedAt       time.Time `gorm:"column:decided_at;not null" json:"decided_at"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (VerificationResult) TableName() string { return "verification_results" }

type EvidenceItem struct {
	Type      EvidenceType   `json:"type" binding:"required"`
	Reference string         `json:"reference" binding:"required"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type SubmitRequest struct {
	ParticipationID string
	MemberID        string
	Items           []EvidenceItem
	ProofText       string
}

type DecideRequest struct {
	ParticipationID string
	Decision        Decision
	DeciderID       *string
	Reason          *string
	Automatic       bool
}
