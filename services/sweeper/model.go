package sweeper

import "time"

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// SweepRun is the execution record of one sweep.
type SweepRun struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	Owner       string     `gorm:"column:owner;not null" json:"owner"`
	Status      RunStatus  `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Expired     int64      `gorm:"column:expired;not null;default:0" json:"expired"`
	DaysClosed  int64      `gorm:"column:days_closed;not null;default:0" json:"days_closed"`
	ErrorMsg    string     `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   time.Time  `gorm:"column:started_at;not null;index" json:"started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SweepRun) TableName() string { return "sweep_runs" }
