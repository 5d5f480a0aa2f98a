package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/publish-scheduler/internal/apperr"
	"github.com/d60-Lab/publish-scheduler/internal/catalog"
	"github.com/d60-Lab/publish-scheduler/internal/events"
	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
	"github.com/d60-Lab/publish-scheduler/pkg/logger"
)

const (
	DefaultHorizon  = 90 * 24 * time.Hour
	defaultPageSize = 20
	maxPageSize     = 100
	calendarLimit   = 1000
)

// VariantAccess post/variant 访问控制
type VariantAccess interface {
	GetVariant(ctx context.Context, p model.Principal, id string) (*catalog.Variant, error)
	GetConnectionFor(ctx context.Context, p model.Principal, id string) (*catalog.ConnectionRef, error)
	PromoteDraft(ctx context.Context, postID string) error
}

type CreateScheduleInput struct {
	PostVariantID       string
	ChannelConnectionID string
	RunAt               *time.Time
	Timezone            string
}

// UpdateScheduleInput nil 字段保持不变
type UpdateScheduleInput struct {
	RunAt               *time.Time
	Timezone            *string
	ChannelConnectionID *string
}

type ListFilter struct {
	Statuses            []model.ScheduleStatus
	ChannelConnectionID string
	From                *time.Time
	To                  *time.Time
}

type Pagination struct {
	Page     int
	PageSize int
}

// ScheduleDetail 调度及其完整发布记录
type ScheduleDetail struct {
	*model.Schedule
	PublishEvents []*model.PublishEvent `json:"publish_events"`
}

type ScheduleList struct {
	Items    []*model.Schedule `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ScheduleService 调度服务
type ScheduleService interface {
	CreateSchedule(ctx context.Context, p model.Principal, in CreateScheduleInput) (*model.Schedule, error)
	GetSchedule(ctx context.Context, p model.Principal, id string) (*ScheduleDetail, error)
	ListSchedules(ctx context.Context, p model.Principal, f ListFilter, pg Pagination) (*ScheduleList, error)
	ListByDateRange(ctx context.Context, p model.Principal, from, to time.Time, f ListFilter) ([]*model.Schedule, error)
	UpdateSchedule(ctx context.Context, p model.Principal, id string, in UpdateScheduleInput) (*model.Schedule, error)
	CancelSchedule(ctx context.Context, p model.Principal, id string) (*model.Schedule, error)
	DeleteSchedule(ctx context.Context, p model.Principal, id string, permanent bool) error
}

type scheduleService struct {
	store    *repository.Store
	variants VariantAccess
	horizon  time.Duration
	now      func() time.Time
}

// Option 可选配置
type Option func(*scheduleService)

// WithHorizon 调度时间上限（默认 90 天）
func WithHorizon(d time.Duration) Option {
	return func(s *scheduleService) {
		if d > 0 {
			s.horizon = d
		}
	}
}

// WithClock 注入时钟（测试使用）
func WithClock(now func() time.Time) Option {
	return func(s *scheduleService) { s.now = now }
}

func NewScheduleService(store *repository.Store, variants VariantAccess, opts ...Option) ScheduleService {
	s := &scheduleService{store: store, variants: variants, horizon: DefaultHorizon, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *scheduleService) CreateSchedule(ctx context.Context, p model.Principal, in CreateScheduleInput) (*model.Schedule, error) {
	if in.PostVariantID == "" || in.ChannelConnectionID == "" || in.RunAt == nil || in.RunAt.IsZero() {
		return nil, apperr.ErrRequiredFieldsMissing
	}

	tz, explicit, err := resolveTimezone(in.Timezone, p.Timezone)
	if err != nil {
		return nil, err
	}

	variant, err := s.variants.GetVariant(ctx, p, in.PostVariantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkConnection(ctx, p, in.ChannelConnectionID, variant.Platform); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.validateRunAt(*in.RunAt, now); err != nil {
		return nil, err
	}

	sch := &model.Schedule{
		PostVariantID:       in.PostVariantID,
		ChannelConnectionID: in.ChannelConnectionID,
		OwnerID:             variant.OwnerID,
		RunAt:               in.RunAt.UTC(),
		Timezone:            tz,
		CreatedAt:           now.UTC(),
		UpdatedAt:           now.UTC(),
	}
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Schedules.Create(ctx, sch); err != nil {
			return err
		}
		return events.NewOutboxSink(tx.Outbox).RecordEvent(ctx, events.Event{
			Type:        events.TypeUserAction,
			Name:        events.ScheduleCreated,
			EntityType:  events.EntitySchedule,
			EntityID:    sch.ID,
			PrincipalID: p.ID,
			Metadata: map[string]any{
				"run_at":            sch.RunAt.Format(time.RFC3339),
				"timezone":          tz,
				"timezone_explicit": explicit,
				"post_variant_id":   sch.PostVariantID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if variant.PostStatus == model.PostStatusDraft {
		if err := s.variants.PromoteDraft(ctx, variant.PostID); err != nil {
			logger.Warn("promote draft post failed", zap.String("post_id", variant.PostID), zap.Error(err))
		}
	}
	logger.Info("schedule created",
		zap.String("schedule_id", sch.ID),
		zap.Time("run_at", sch.RunAt),
		zap.String("timezone", tz),
	)
	return sch, nil
}

func (s *scheduleService) GetSchedule(ctx context.Context, p model.Principal, id string) (*ScheduleDetail, error) {
	sch, err := s.authorize(ctx, p, id)
	if err != nil {
		return nil, err
	}
	evs, err := s.store.Events.ListBySchedule(ctx, sch.ID)
	if err != nil {
		return nil, err
	}
	return &ScheduleDetail{Schedule: sch, PublishEvents: evs}, nil
}

func (s *scheduleService) ListSchedules(ctx context.Context, p model.Principal, f ListFilter, pg Pagination) (*ScheduleList, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	if pg.Page < 1 {
		pg.Page = 1
	}
	if pg.PageSize < 1 {
		pg.PageSize = defaultPageSize
	}
	if pg.PageSize > maxPageSize {
		pg.PageSize = maxPageSize
	}
	offset := (pg.Page - 1) * pg.PageSize
	items, total, err := s.store.Schedules.List(ctx, toRepoFilter(p, f), offset, pg.PageSize)
	if err != nil {
		return nil, err
	}
	return &ScheduleList{Items: items, Total: total, Page: pg.Page, PageSize: pg.PageSize}, nil
}

func (s *scheduleService) ListByDateRange(ctx context.Context, p model.Principal, from, to time.Time, f ListFilter) ([]*model.Schedule, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, apperr.ErrInvalidFilter.WithMessage("from_date and to_date are required and from_date must not be after to_date")
	}
	f.From, f.To = &from, &to
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	items, _, err := s.store.Schedules.List(ctx, toRepoFilter(p, f), 0, calendarLimit)
	return items, err
}

func (s *scheduleService) UpdateSchedule(ctx context.Context, p model.Principal, id string, in UpdateScheduleInput) (*model.Schedule, error) {
	sch, err := s.authorize(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !sch.CanModify() {
		return nil, apperr.ErrCannotBeModified
	}

	now := s.now()
	fields := map[string]any{"updated_at": now.UTC()}
	changes := map[string]any{}
	if in.RunAt != nil {
		if err := s.validateRunAt(*in.RunAt, now); err != nil {
			return nil, err
		}
		fields["run_at"] = in.RunAt.UTC()
		// 人工改期让 failed 重新进入待调度
		fields["status"] = model.ScheduleStatusPending
		changes["run_at"] = in.RunAt.UTC().Format(time.RFC3339)
		changes["previous_run_at"] = sch.RunAt.UTC().Format(time.RFC3339)
	}
	if in.Timezone != nil {
		if _, err := time.LoadLocation(*in.Timezone); err != nil || *in.Timezone == "" {
			return nil, apperr.ErrInvalidTimezone
		}
		fields["timezone"] = *in.Timezone
		changes["timezone"] = *in.Timezone
	}
	if in.ChannelConnectionID != nil {
		if *in.ChannelConnectionID == "" {
			return nil, apperr.ErrRequiredFieldsMissing
		}
		if *in.ChannelConnectionID != sch.ChannelConnectionID {
			variant, err := s.variants.GetVariant(ctx, p, sch.PostVariantID)
			if err != nil {
				return nil, err
			}
			if err := s.checkConnection(ctx, p, *in.ChannelConnectionID, variant.Platform); err != nil {
				return nil, err
			}
		}
		fields["channel_connection_id"] = *in.ChannelConnectionID
		changes["channel_connection_id"] = *in.ChannelConnectionID
	}

	var updated *model.Schedule
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Schedules.TransitionStatus(ctx, id,
			[]model.ScheduleStatus{model.ScheduleStatusPending, model.ScheduleStatusFailed}, fields)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrCannotBeModified
		}
		if err := events.NewOutboxSink(tx.Outbox).RecordEvent(ctx, events.Event{
			Type:        events.TypeUserAction,
			Name:        events.ScheduleUpdated,
			EntityType:  events.EntitySchedule,
			EntityID:    id,
			PrincipalID: p.ID,
			Metadata:    changes,
		}); err != nil {
			return err
		}
		updated, err = tx.Schedules.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *scheduleService) CancelSchedule(ctx context.Context, p model.Principal, id string) (*model.Schedule, error) {
	sch, err := s.authorize(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !sch.CanCancel() {
		return nil, apperr.ErrCannotBeCancelled
	}

	var updated *model.Schedule
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Schedules.TransitionStatus(ctx, id,
			[]model.ScheduleStatus{model.ScheduleStatusPending, model.ScheduleStatusQueued},
			map[string]any{"status": model.ScheduleStatusCancelled, "updated_at": s.now().UTC()})
		if err != nil {
			return err
		}
		if !ok {
			// 调度器已抢占（processing），不中断进行中的发布
			return apperr.ErrCannotBeCancelled
		}
		if err := events.NewOutboxSink(tx.Outbox).RecordEvent(ctx, events.Event{
			Type:        events.TypeUserAction,
			Name:        events.ScheduleCancelled,
			EntityType:  events.EntitySchedule,
			EntityID:    id,
			PrincipalID: p.ID,
			Metadata:    map[string]any{"previous_status": string(sch.Status)},
		}); err != nil {
			return err
		}
		updated, err = tx.Schedules.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *scheduleService) DeleteSchedule(ctx context.Context, p model.Principal, id string, permanent bool) error {
	sch, err := s.authorize(ctx, p, id)
	if err != nil {
		return err
	}
	return s.store.Transaction(ctx, func(tx *repository.Store) error {
		var deleted bool
		if permanent {
			deleted, err = tx.Schedules.HardDelete(ctx, id)
		} else {
			deleted, err = tx.Schedules.Delete(ctx, id, s.now())
		}
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.ErrScheduleNotFound
		}
		return events.NewOutboxSink(tx.Outbox).RecordEvent(ctx, events.Event{
			Type:        events.TypeUserAction,
			Name:        events.ScheduleDeleted,
			EntityType:  events.EntitySchedule,
			EntityID:    id,
			PrincipalID: p.ID,
			Metadata:    map[string]any{"permanent": permanent, "status": string(sch.Status)},
		})
	})
}

// authorize 读取调度并校验 principal 可访问其 variant
func (s *scheduleService) authorize(ctx context.Context, p model.Principal, id string) (*model.Schedule, error) {
	sch, err := s.store.Schedules.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.variants.GetVariant(ctx, p, sch.PostVariantID); err != nil {
		if errors.Is(err, apperr.ErrVariantNotFound) || errors.Is(err, apperr.ErrAccessDenied) {
			return nil, apperr.ErrAccessDenied
		}
		return nil, err
	}
	return sch, nil
}

// checkConnection 连接必须属于 principal 且平台与 variant 一致
func (s *scheduleService) checkConnection(ctx context.Context, p model.Principal, connID, platform string) error {
	conn, err := s.variants.GetConnectionFor(ctx, p, connID)
	if err != nil {
		return err
	}
	if conn.Platform != platform {
		return apperr.ErrConnectionMismatch
	}
	return nil
}

func (s *scheduleService) validateRunAt(runAt, now time.Time) error {
	if !runAt.After(now) {
		return apperr.ErrTimeMustBeFuture
	}
	if runAt.After(now.Add(s.horizon)) {
		return apperr.ErrTimeTooFar
	}
	return nil
}

// resolveTimezone 显式参数 > 用户资料 > UTC
func resolveTimezone(explicit, profile string) (string, bool, error) {
	if explicit != "" {
		if _, err := time.LoadLocation(explicit); err != nil {
			return "", false, apperr.ErrInvalidTimezone
		}
		return explicit, true, nil
	}
	if profile != "" {
		if _, err := time.LoadLocation(profile); err == nil {
			return profile, false, nil
		}
	}
	return "UTC", false, nil
}

func validateFilter(f ListFilter) error {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return apperr.ErrInvalidFilter.WithMessage("unknown status %q", st)
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return apperr.ErrInvalidFilter.WithMessage("from_date must not be after to_date")
	}
	return nil
}

func toRepoFilter(p model.Principal, f ListFilter) repository.ScheduleFilter {
	return repository.ScheduleFilter{
		OwnerID:             p.ID,
		Statuses:            f.Statuses,
		ChannelConnectionID: f.ChannelConnectionID,
		From:                f.From,
		To:                  f.To,
	}
}
