package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/publish-scheduler/internal/model"
)

// OutboxRepository 领域事件外发盒
type OutboxRepository interface {
	Append(ctx context.Context, ev *model.DomainEvent) error
	// ClaimPending 认领一批 pending 事件（以及 claimed_at 早于 staleBefore 的 processing 事件）
	ClaimPending(ctx context.Context, limit int, now, staleBefore time.Time) ([]*model.DomainEvent, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	// Release 投递失败时放回 pending
	Release(ctx context.Context, id string) error
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) Append(ctx context.Context, ev *model.DomainEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Status == "" {
		ev.Status = model.OutboxStatusPending
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, now, staleBefore time.Time) ([]*model.DomainEvent, error) {
	var batch []*model.DomainEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SELECT ... FOR UPDATE SKIP LOCKED（sqlite 方言会忽略锁子句）
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? OR (status = ? AND claimed_at < ?)",
				model.OutboxStatusPending, model.OutboxStatusProcessing, staleBefore.UTC()).
			Order("created_at").
			Limit(limit).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.DomainEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     model.OutboxStatusProcessing,
				"attempts":   gorm.Expr("attempts + 1"),
				"claimed_at": now.UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.DomainEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxStatusDone, "processed_at": at.UTC()}).Error
}

func (r *outboxRepository) Release(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.DomainEvent{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusProcessing).
		Update("status", model.OutboxStatusPending).Error
}
