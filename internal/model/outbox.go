package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusDone       = "done"
)

// DomainEvent 领域事件外发盒，与状态变更同事务写入
type DomainEvent struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EventType   string         `json:"event_type" gorm:"type:varchar(32);not null"`
	EventName   string         `json:"event_name" gorm:"type:varchar(64);not null"`
	EntityType  string         `json:"entity_type" gorm:"type:varchar(32);not null"`
	EntityID    string         `json:"entity_id" gorm:"type:varchar(36);index:idx_outbox_entity"`
	PrincipalID string         `json:"principal_id" gorm:"type:varchar(36)"`
	Metadata    datatypes.JSON `json:"metadata"`
	Status      string         `json:"status" gorm:"type:varchar(16);index"` // pending, processing, done
	Attempts    int            `json:"attempts" gorm:"not null;default:0"`
	ClaimedAt   *time.Time     `json:"claimed_at"`
	CreatedAt   time.Time      `json:"created_at" gorm:"index"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

func (DomainEvent) TableName() string { return "domain_events" }
