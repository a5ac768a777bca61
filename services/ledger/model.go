package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Reason string

const (
	ReasonMissionReward  Reason = "MISSION_REWARD"
	ReasonPayout         Reason = "PAYOUT"
	ReasonPayoutReversal Reason = "PAYOUT_REVERSAL"
	ReasonAdjustment     Reason = "ADJUSTMENT"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonMissionReward, ReasonPayout, ReasonPayoutReversal, ReasonAdjustment:
		return true
	default:
		return false
	}
}

// LedgerEntry is one signed movement for one member. Rows are never updated;
// corrections are new offsetting entries. (reason, reference_id) is unique
// so a participation or payout can move money at most once per reason.
type LedgerEntry struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	MemberID     string         `gorm:"column:member_id;not null;uniqueIndex:idx_ledger_member_sequence" json:"member_id"`
	Sequence     int64          `gorm:"column:sequence;not null;uniqueIndex:idx_ledger_member_sequence" json:"sequence"`
	Amount       int64          `gorm:"column:amount;not null" json:"amount"`
	Reason       Reason         `gorm:"column:reason;not null;uniqueIndex:idx_ledger_reason_reference" json:"reason"`
	ReferenceID  *string        `gorm:"column:reference_id;uniqueIndex:idx_ledger_reason_reference" json:"reference_id,omitempty"`
	Description  string         `gorm:"column:description" json:"description,omitempty"`
	PreviousHash string         `gorm:"column:previous_hash" json:"previous_hash"`
	Hash         string         `gorm:"column:hash;not null" json:"hash"`
	Metadata     datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// MemberBalance is a projection of the entry stream. It is written in the
// same transaction as every post and doubles as the per-member row lock.
// Balance() never reads it.
type MemberBalance struct {
	MemberID    string    `gorm:"column:member_id;primaryKey" json:"member_id"`
	Balance     int64     `gorm:"column:balance;not null;default:0" json:"balance"`
	EntryCount  int64     `gorm:"column:entry_count;not null;default:0" json:"entry_count"`
	LastHash    string    `gorm:"column:last_hash" json:"last_hash"`
	LastEntryID string    `gorm:"column:last_entry_id" json:"last_entry_id"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (MemberBalance) TableName() string { return "member_balances" }

type PostParams struct {
	MemberID    string
	Amount      int64
	Reason      Reason
	ReferenceID string
	Description string
	Metadata    datatypes.JSON
	// AllowNegative lets the post take the balance below zero.
	AllowNegative bool
}

func (m *LedgerEntry) HashFields() map[string]string {
	ref := ""
	if m.ReferenceID != nil {
		ref = *m.ReferenceID
	}
	return map[string]string{
		"id":            m.ID,
		"member_id":     m.MemberID,
		"sequence":      fmt.Sprintf("%d", m.Sequence),
		"amount":        fmt.Sprintf("%d", m.Amount),
		"reason":        string(m.Reason),
		"reference_id":  ref,
		"description":   m.Description,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type BalanceView struct {
	MemberID string `json:"member_id"`
	Balance  int64  `json:"balance"`
}

type ChainReport struct {
	MemberID string `json:"member_id"`
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt string `json:"broken_at,omitempty"`
}

type ReconcileReport struct {
	MemberID  string `json:"member_id"`
	Projected int64  `json:"projected"`
	Actual    int64  `json:"actual"`
	Drift     int64  `json:"drift"`
	Repaired  bool   `json:"repaired"`
}
