package model

import "time"

type PublishEventStatus string

const (
	PublishEventSuccess   PublishEventStatus = "success"
	PublishEventFailed    PublishEventStatus = "failed"
	PublishEventRetried   PublishEventStatus = "retried"
	PublishEventCancelled PublishEventStatus = "cancelled"
)

// PublishEvent 单次发布尝试的结果，只追加不修改
type PublishEvent struct {
	ID             string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ScheduleID     string             `json:"schedule_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_publish_event_attempt,priority:1"`
	// 复合唯一键，同一 attempt 只能落一条结果
	// ux_publish_event_attempt = (schedule_id, attempt_index)
	AttemptIndex   int                `json:"attempt_index" gorm:"not null;uniqueIndex:ux_publish_event_attempt,priority:2"`
	Status         PublishEventStatus `json:"status" gorm:"type:varchar(16);not null"`
	ExternalPostID string             `json:"external_post_id,omitempty" gorm:"type:varchar(255)"`
	ExternalURL    string             `json:"external_url,omitempty" gorm:"type:text"`
	ErrorCode      string             `json:"error_code,omitempty" gorm:"type:varchar(64)"`
	ErrorMessage   string             `json:"error_message,omitempty" gorm:"type:text"`
	RawResponse    string             `json:"raw_response,omitempty" gorm:"type:text"`
	Timestamp      time.Time          `json:"timestamp" gorm:"not null"`
	CreatedAt      time.Time          `json:"created_at"`

	Schedule *Schedule `json:"-" gorm:"foreignKey:ScheduleID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (PublishEvent) TableName() string { return "publish_events" }
