package payout

import "time"

type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusPaid      Status = "PAID"
	StatusRejected  Status = "REJECTED"
)

// A PAID request may still be rejected when the provider returns the funds.
var transitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusRejected},
	StatusApproved:  {StatusPaid, StatusRejected},
	StatusPaid:      {StatusRejected},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// reservingStatuses hold funds that are not yet debited from the ledger.
var reservingStatuses = []Status{StatusRequested, StatusApproved}

type PayoutAccount struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	MemberID      string    `gorm:"column:member_id;not null;index" json:"member_id"`
	Provider      string    `gorm:"column:provider;not null" json:"provider"`
	AccountName   string    `gorm:"column:account_name;not null" json:"account_name"`
	AccountNumber string    `gorm:"column:account_number;not null" json:"account_number"`
	IsPrimary     bool      `gorm:"column:is_primary;not null;default:false" json:"is_primary"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PayoutAccount) TableName() string { return "payout_accounts" }

type PayoutRequest struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	Code            string     `gorm:"column:code;index" json:"code"`
	MemberID        string     `gorm:"column:member_id;not null;index:idx_payout_member_status" json:"member_id"`
	AccountID       string     `gorm:"column:account_id;not null" json:"account_id"`
	Amount          int64      `gorm:"column:amount;not null" json:"amount"`
	Status          Status     `gorm:"column:status;not null;index:idx_payout_member_status" json:"status"`
	IdempotencyKey  string     `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	FailureReason   *string    `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	DebitEntryID    *string    `gorm:"column:debit_entry_id" json:"debit_entry_id,omitempty"`
	ReversalEntryID *string    `gorm:"column:reversal_entry_id" json:"reversal_entry_id,omitempty"`
	SettledBy       *string    `gorm:"column:settled_by" json:"settled_by,omitempty"`
	ApprovedAt      *time.Time `gorm:"column:approved_at" json:"approved_at,omitempty"`
	PaidAt          *time.Time `gorm:"column:paid_at" json:"paid_at,omitempty"`
	RejectedAt      *time.Time `gorm:"column:rejected_at" json:"rejected_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

type Balance struct {
	MemberID  string `json:"member_id"`
	Balance   int64  `json:"balance"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}

type RegisterAccountRequest struct {
	MemberID      string `json:"-"`
	Provider      string `json:"provider" binding:"required"`
	AccountName   string `json:"account_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

type CreateRequest struct {
	MemberID       string `json:"-"`
	AccountID      string `json:"account_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	IdempotencyKey string `json:"-"`
}

type SettleRequest struct {
	RequestID string `json:"-"`
	Outcome   Status `json:"outcome" binding:"required"`
	Reason    string `json:"reason"`
	ActorID   string `json:"-"`
}

type ListFilter struct {
	MemberID string `form:"member_id"`
	Status   Status `form:"status"`
	// Pending limits the list to requests still holding a reservation.
	Pending   bool  `form:"pending"`
	MinAmount int64 `form:"min_amount"`
}
