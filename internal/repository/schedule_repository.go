package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/publish-scheduler/internal/model"
)

// pgLockNotAvailable postgres 在 NOWAIT 取锁失败时返回的 SQLSTATE
const pgLockNotAvailable = "55P03"

// ScheduleFilter 列表查询条件，零值字段不参与过滤
type ScheduleFilter struct {
	OwnerID             string
	Statuses            []model.ScheduleStatus
	ChannelConnectionID string
	From                *time.Time
	To                  *time.Time
}

// ScheduleRepository 调度仓储接口；除 in-flight 相关方法外都过滤 is_deleted
type ScheduleRepository interface {
	Create(ctx context.Context, s *model.Schedule) error
	FindByID(ctx context.Context, id string) (*model.Schedule, error)
	// FindByIDForUpdate 必须在事务内调用；行已被锁时立即返回 ErrLocked
	FindByIDForUpdate(ctx context.Context, id string) (*model.Schedule, error)
	// FindDueSchedules 不加锁，加锁在 executor 中逐行进行
	FindDueSchedules(ctx context.Context, now time.Time, limit int) ([]*model.Schedule, error)
	// FindStuck 返回 last_attempt_at 早于 before 的 processing 记录，包含已软删除的
	FindStuck(ctx context.Context, before time.Time, limit int) ([]*model.Schedule, error)
	List(ctx context.Context, f ScheduleFilter, offset, limit int) ([]*model.Schedule, int64, error)
	Update(ctx context.Context, id string, fields map[string]any) (*model.Schedule, error)
	UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus, details *model.ErrorDetails) (*model.Schedule, error)
	IncrementAttempt(ctx context.Context, id string, at time.Time) (*model.Schedule, error)
	// TransitionStatus 仅当当前状态属于 from 时写入 fields，返回是否生效
	TransitionStatus(ctx context.Context, id string, from []model.ScheduleStatus, fields map[string]any) (bool, error)
	// ClaimDue pending 且到期时切换为 processing，返回是否抢到
	ClaimDue(ctx context.Context, id string, now time.Time) (bool, error)
	// LockInFlight 锁定 processing 记录，不过滤 is_deleted
	LockInFlight(ctx context.Context, id string) (*model.Schedule, error)
	// FinishAttempt 仅当状态仍为 processing 时写入结果；已开始的 attempt 在软删除后也要落结果
	FinishAttempt(ctx context.Context, id string, fields map[string]any) (bool, error)
	Delete(ctx context.Context, id string, at time.Time) (bool, error)
	HardDelete(ctx context.Context, id string) (bool, error)
}

type scheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) ScheduleRepository { return &scheduleRepository{db: db} }

func (r *scheduleRepository) live(ctx context.Context) *gorm.DB {
	return r.all(ctx).Where("is_deleted = ?", false)
}

func (r *scheduleRepository) all(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Schedule{})
}

func (r *scheduleRepository) Create(ctx context.Context, s *model.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.Status = model.ScheduleStatusPending
	s.AttemptCount = 0
	s.RunAt = s.RunAt.UTC()
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *scheduleRepository) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	var s model.Schedule
	if err := r.live(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *scheduleRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Schedule, error) {
	return lockOne(r.live(ctx).Where("id = ?", id))
}

func (r *scheduleRepository) LockInFlight(ctx context.Context, id string) (*model.Schedule, error) {
	return lockOne(r.all(ctx).Where("id = ? AND status = ?", id, model.ScheduleStatusProcessing))
}

func lockOne(q *gorm.DB) (*model.Schedule, error) {
	var s model.Schedule
	err := q.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).First(&s).Error
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrLocked
		}
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *scheduleRepository) FindDueSchedules(ctx context.Context, now time.Time, limit int) ([]*model.Schedule, error) {
	var res []*model.Schedule
	err := r.live(ctx).
		Where("status = ? AND run_at <= ?", model.ScheduleStatusPending, now.UTC()).
		Order("run_at ASC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *scheduleRepository) FindStuck(ctx context.Context, before time.Time, limit int) ([]*model.Schedule, error) {
	var res []*model.Schedule
	err := r.all(ctx).
		Where("status = ? AND last_attempt_at < ?", model.ScheduleStatusProcessing, before.UTC()).
		Order("last_attempt_at ASC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *scheduleRepository) List(ctx context.Context, f ScheduleFilter, offset, limit int) ([]*model.Schedule, int64, error) {
	q := r.live(ctx)
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.ChannelConnectionID != "" {
		q = q.Where("channel_connection_id = ?", f.ChannelConnectionID)
	}
	if f.From != nil {
		q = q.Where("run_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("run_at <= ?", f.To.UTC())
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var res []*model.Schedule
	err := q.Order("run_at ASC").Order("id ASC").Offset(offset).Limit(limit).Find(&res).Error
	return res, total, err
}

func (r *scheduleRepository) Update(ctx context.Context, id string, fields map[string]any) (*model.Schedule, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	tx := r.live(ctx).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *scheduleRepository) UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus, details *model.ErrorDetails) (*model.Schedule, error) {
	fields := map[string]any{"status": status, "error_code": "", "error_message": ""}
	if details != nil {
		fields["error_code"] = details.Code
		fields["error_message"] = details.Message
	}
	return r.Update(ctx, id, fields)
}

func (r *scheduleRepository) IncrementAttempt(ctx context.Context, id string, at time.Time) (*model.Schedule, error) {
	at = at.UTC()
	return r.Update(ctx, id, map[string]any{
		"attempt_count":   gorm.Expr("attempt_count + ?", 1),
		"last_attempt_at": at,
		"updated_at":      at,
	})
}

func (r *scheduleRepository) TransitionStatus(ctx context.Context, id string, from []model.ScheduleStatus, fields map[string]any) (bool, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	tx := r.live(ctx).Where("id = ? AND status IN ?", id, from).Updates(fields)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *scheduleRepository) ClaimDue(ctx context.Context, id string, now time.Time) (bool, error) {
	now = now.UTC()
	tx := r.live(ctx).
		Where("id = ? AND status = ? AND run_at <= ?", id, model.ScheduleStatusPending, now).
		Updates(map[string]any{"status": model.ScheduleStatusProcessing, "updated_at": now})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *scheduleRepository) FinishAttempt(ctx context.Context, id string, fields map[string]any) (bool, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	tx := r.all(ctx).Where("id = ? AND status = ?", id, model.ScheduleStatusProcessing).Updates(fields)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// Delete 软删除，已删除时返回 false
func (r *scheduleRepository) Delete(ctx context.Context, id string, at time.Time) (bool, error) {
	at = at.UTC()
	tx := r.live(ctx).Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at, "updated_at": at})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// HardDelete 物理删除调度及其发布记录
func (r *scheduleRepository) HardDelete(ctx context.Context, id string) (bool, error) {
	if err := r.db.WithContext(ctx).Where("schedule_id = ?", id).Delete(&model.PublishEvent{}).Error; err != nil {
		return false, err
	}
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Schedule{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}
