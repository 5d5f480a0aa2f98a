package model

import "time"

// ScheduleStatus 调度状态
type ScheduleStatus string

const (
	ScheduleStatusPending    ScheduleStatus = "pending"
	ScheduleStatusQueued     ScheduleStatus = "queued"
	ScheduleStatusProcessing ScheduleStatus = "processing"
	ScheduleStatusSuccess    ScheduleStatus = "success"
	ScheduleStatusFailed     ScheduleStatus = "failed"
	ScheduleStatusCancelled  ScheduleStatus = "cancelled"
)

// Valid 是否为已知状态
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusPending, ScheduleStatusQueued, ScheduleStatusProcessing,
		ScheduleStatusSuccess, ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

// Schedule 在 RunAt 时刻通过 ChannelConnection 发布 PostVariant
type Schedule struct {
	ID                  string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostVariantID       string         `json:"post_variant_id" gorm:"type:varchar(36);not null;index"`
	ChannelConnectionID string         `json:"channel_connection_id" gorm:"type:varchar(36);not null;index"`
	// OwnerID 冗余自 variant 所属 post，仅用于列表查询
	OwnerID       string         `json:"owner_id" gorm:"type:varchar(36);not null;index:idx_schedule_owner_run,priority:1"`
	RunAt         time.Time      `json:"run_at" gorm:"not null;index:idx_schedule_due,priority:2;index:idx_schedule_owner_run,priority:2"`
	Timezone      string         `json:"timezone" gorm:"type:varchar(64);not null;default:'UTC'"`
	Status        ScheduleStatus `json:"status" gorm:"type:varchar(16);not null;index:idx_schedule_due,priority:1"`
	AttemptCount  int            `json:"attempt_count" gorm:"not null;default:0"`
	LastAttemptAt *time.Time     `json:"last_attempt_at"`
	ErrorCode     string         `json:"error_code,omitempty" gorm:"type:varchar(64)"`
	ErrorMessage  string         `json:"error_message,omitempty" gorm:"type:text"`
	IsDeleted     bool           `json:"-" gorm:"not null;default:false;index"`
	DeletedAt     *time.Time     `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Schedule) TableName() string { return "schedules" }

// IsTerminal success/cancelled 之后不再允许任何迁移
func (s *Schedule) IsTerminal() bool {
	return s.Status == ScheduleStatusSuccess || s.Status == ScheduleStatusCancelled
}

// CanModify 仅 pending / failed 允许改期
func (s *Schedule) CanModify() bool {
	return s.Status == ScheduleStatusPending || s.Status == ScheduleStatusFailed
}

// CanCancel 仅 pending / queued 允许取消
func (s *Schedule) CanCancel() bool {
	return s.Status == ScheduleStatusPending || s.Status == ScheduleStatusQueued
}

// IsDue pending 且 RunAt 已过
func (s *Schedule) IsDue(now time.Time) bool {
	return !s.IsDeleted && s.Status == ScheduleStatusPending && !s.RunAt.After(now)
}

// CanRetry 是否还有自动重试余量
func (s *Schedule) CanRetry(maxAttempts int) bool {
	return s.AttemptCount < maxAttempts
}

// ErrorDetails 最近一次失败的信息
type ErrorDetails struct {
	Code    string
	Message string
}
