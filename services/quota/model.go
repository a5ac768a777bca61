package quota

import (
	"time"

	"gorm.io/datatypes"
)

type DayStatus string

const (
	DayActive DayStatus = "ACTIVE"
	DayClosed DayStatus = "CLOSED"
)

// MissionDay is one mission instance for one UTC calendar date under one campaign.
type MissionDay struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	CampaignID      string         `gorm:"column:campaign_id;not null;uniqueIndex:idx_mission_day_campaign_date" json:"campaign_id"`
	Date            datatypes.Date `gorm:"column:mission_date;not null;uniqueIndex:idx_mission_day_campaign_date" json:"date"`
	MissionType     string         `gorm:"column:mission_type;not null" json:"mission_type"`
	QuotaTotal      int            `gorm:"column:quota_total;not null" json:"quota_total"`
	QuotaRemaining  int            `gorm:"column:quota_remaining;not null" json:"quota_remaining"`
	RewardAmount    int64          `gorm:"column:reward_amount;not null" json:"reward_amount"`
	Status          DayStatus      `gorm:"column:status;not null;index" json:"status"`
	AutoApproveRule string         `gorm:"column:auto_approve_rule;type:text" json:"auto_approve_rule,omitempty"`
	AutoRejectRule  string         `gorm:"column:auto_reject_rule;type:text" json:"auto_reject_rule,omitempty"`
	ClosedAt        *time.Time     `gorm:"column:closed_at" json:"closed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (MissionDay) TableName() string { return "mission_days" }

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type OpenDayRequest struct {
	CampaignID      string    `json:"campaign_id" binding:"required"`
	Date            time.Time `json:"date" binding:"required"`
	MissionType     string    `json:"mission_type" binding:"required"`
	QuotaTotal      int       `json:"quota_total" binding:"gte=0"`
	RewardAmount    int64     `json:"reward_amount" binding:"gt=0"`
	AutoApproveRule string    `json:"auto_approve_rule"`
	AutoRejectRule  string    `json:"auto_reject_rule"`
}

type ResetDayRequest struct {
	QuotaTotal int `json:"quota_total" binding:"gte=0"`
}
