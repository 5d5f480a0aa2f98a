package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/publish-scheduler/internal/model"
)

// PublishEventRepository 发布尝试日志，只追加
type PublishEventRepository interface {
	Create(ctx context.Context, ev *model.PublishEvent) error
	ListBySchedule(ctx context.Context, scheduleID string) ([]*model.PublishEvent, error)
	GetLatestBySchedule(ctx context.Context, scheduleID string) (*model.PublishEvent, error)
	CountBySchedule(ctx context.Context, scheduleID string) (int64, error)
}

type publishEventRepository struct{ db *gorm.DB }

func NewPublishEventRepository(db *gorm.DB) PublishEventRepository {
	return &publishEventRepository{db: db}
}

func (r *publishEventRepository) Create(ctx context.Context, ev *model.PublishEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return r.db.WithContext(ctx).Omit("Schedule").Create(ev).Error
}

func (r *publishEventRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]*model.PublishEvent, error) {
	var res []*model.PublishEvent
	err := r.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("attempt_index ASC").
		Find(&res).Error
	return res, err
}

func (r *publishEventRepository) GetLatestBySchedule(ctx context.Context, scheduleID string) (*model.PublishEvent, error) {
	var ev model.PublishEvent
	err := r.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("attempt_index DESC").
		First(&ev).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}

func (r *publishEventRepository) CountBySchedule(ctx context.Context, scheduleID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.PublishEvent{}).Where("schedule_id = ?", scheduleID).Count(&cnt).Error
	return cnt, err
}
