// Package events 记录并外发调度领域事件（outbox + relay）。
package events

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
)

const (
	TypeUserAction = "user_action"
	TypeSystem     = "system"

	EntitySchedule = "schedule"

	ScheduleCreated   = "SCHEDULE_CREATED"
	ScheduleUpdated   = "SCHEDULE_UPDATED"
	ScheduleCancelled = "SCHEDULE_CANCELLED"
	ScheduleDeleted   = "SCHEDULE_DELETED"
	SchedulePublished = "SCHEDULE_PUBLISHED"
	ScheduleFailed    = "SCHEDULE_FAILED"
)

// Event 领域事件
type Event struct {
	Type        string
	Name        string
	EntityType  string
	EntityID    string
	PrincipalID string
	Metadata    map[string]any
}

// Sink 记录领域事件
type Sink interface {
	RecordEvent(ctx context.Context, ev Event) error
}

// OutboxSink 写入 domain_events 表；传入事务内的仓储即可与状态变更同事务提交
type OutboxSink struct {
	outbox repository.OutboxRepository
}

func NewOutboxSink(outbox repository.OutboxRepository) *OutboxSink {
	return &OutboxSink{outbox: outbox}
}

func (s *OutboxSink) RecordEvent(ctx context.Context, ev Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	return s.outbox.Append(ctx, &model.DomainEvent{
		EventType:   ev.Type,
		EventName:   ev.Name,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		PrincipalID: ev.PrincipalID,
		Metadata:    datatypes.JSON(meta),
	})
}
