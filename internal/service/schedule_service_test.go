package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/publish-scheduler/internal/apperr"
	"github.com/d60-Lab/publish-scheduler/internal/catalog"
	"github.com/d60-Lab/publish-scheduler/internal/events"
	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
)

var (
	now   = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	alice = model.Principal{ID: "alice", Timezone: "Europe/Berlin"}
	bob   = model.Principal{ID: "bob"}
)

type fixture struct {
	db    *gorm.DB
	store *repository.Store
	svc   ScheduleService
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Create(&model.Post{ID: "post-1", OwnerID: "alice", Status: model.PostStatusDraft}).Error)
	require.NoError(t, db.Create(&model.PostVariant{ID: "var-1", PostID: "post-1", Platform: "mastodon", Body: "hi"}).Error)
	for _, c := range []model.ChannelConnection{
		{ID: "conn-1", OwnerID: "alice", Platform: "mastodon", AccessTokenEnc: "x"},
		{ID: "conn-2", OwnerID: "alice", Platform: "mastodon", AccessTokenEnc: "x"},
		{ID: "conn-bsky", OwnerID: "alice", Platform: "bluesky", AccessTokenEnc: "x"},
		{ID: "bob-conn", OwnerID: "bob", Platform: "mastodon", AccessTokenEnc: "x"},
	} {
		require.NoError(t, db.Create(&c).Error)
	}

	store := repository.NewStore(db)
	svc := NewScheduleService(store, catalog.New(db, nil), WithClock(func() time.Time { return now }))
	return &fixture{db: db, store: store, svc: svc}
}

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func (f *fixture) create(t *testing.T, runAt time.Duration) *model.Schedule {
	t.Helper()
	s, err := f.svc.CreateSchedule(context.Background(), alice, CreateScheduleInput{
		PostVariantID:       "var-1",
		ChannelConnectionID: "conn-1",
		RunAt:               at(runAt),
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) domainEvents(t *testing.T, name string) []model.DomainEvent {
	t.Helper()
	var evs []model.DomainEvent
	require.NoError(t, f.db.Where("event_name = ?", name).Order("created_at").Find(&evs).Error)
	return evs
}

func (f *fixture) setStatus(t *testing.T, id string, st model.ScheduleStatus) {
	t.Helper()
	_, err := f.store.Schedules.UpdateStatus(context.Background(), id, st, nil)
	require.NoError(t, err)
}

func TestCreateSchedule(t *testing.T) {
	f := setup(t)
	s, err := f.svc.CreateSchedule(context.Background(), alice, CreateScheduleInput{
		PostVariantID:       "var-1",
		ChannelConnectionID: "conn-1",
		RunAt:               at(time.Hour),
		Timezone:            "America/New_York",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, s.Status)
	assert.Zero(t, s.AttemptCount)
	assert.Equal(t, "America/New_York", s.Timezone)
	assert.Equal(t, "alice", s.OwnerID)
	assert.True(t, s.RunAt.Equal(now.Add(time.Hour)))

	var post model.Post
	require.NoError(t, f.db.First(&post, "id = ?", "post-1").Error)
	assert.Equal(t, model.PostStatusScheduled, post.Status, "draft post 被提升为 scheduled")

	evs := f.domainEvents(t, events.ScheduleCreated)
	require.Len(t, evs, 1)
	assert.Equal(t, s.ID, evs[0].EntityID)
	assert.Equal(t, "alice", evs[0].PrincipalID)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(evs[0].Metadata, &meta))
	assert.Equal(t, "America/New_York", meta["timezone"])
	assert.Equal(t, true, meta["timezone_explicit"])
	assert.Equal(t, now.Add(time.Hour).Format(time.RFC3339), meta["run_at"])
}

func TestCreateScheduleTimezoneResolution(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	in := CreateScheduleInput{PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: at(time.Hour)}

	s, err := f.svc.CreateSchedule(ctx, alice, in)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", s.Timezone, "未显式指定时使用用户资料时区")

	noProfile := model.Principal{ID: "alice"}
	s, err = f.svc.CreateSchedule(ctx, noProfile, in)
	require.NoError(t, err)
	assert.Equal(t, "UTC", s.Timezone)

	badProfile := model.Principal{ID: "alice", Timezone: "Mars/Olympus"}
	s, err = f.svc.CreateSchedule(ctx, badProfile, in)
	require.NoError(t, err)
	assert.Equal(t, "UTC", s.Timezone)

	in.Timezone = "Not/AZone"
	_, err = f.svc.CreateSchedule(ctx, alice, in)
	assert.ErrorIs(t, err, apperr.ErrInvalidTimezone)

	evs := f.domainEvents(t, events.ScheduleCreated)
	require.Len(t, evs, 3)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(evs[0].Metadata, &meta))
	assert.Equal(t, false, meta["timezone_explicit"])
}

func TestCreateScheduleValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    model.Principal
		in   CreateScheduleInput
		want error
	}{
		{"missing variant", alice, CreateScheduleInput{ChannelConnectionID: "conn-1", RunAt: at(time.Hour)}, apperr.ErrRequiredFieldsMissing},
		{"missing connection", alice, CreateScheduleInput{PostVariantID: "var-1", RunAt: at(time.Hour)}, apperr.ErrRequiredFieldsMissing},
		{"missing run_at", alice, CreateScheduleInput{PostVariantID: "var-1", ChannelConnectionID: "conn-1"}, apperr.ErrRequiredFieldsMissing},
		{"unknown variant", alice, CreateScheduleInput{PostVariantID: "nope", ChannelConnectionID: "conn-1", RunAt: at(time.Hour)}, apperr.ErrVariantNotFound},
		{"not owner", bob, CreateScheduleInput{PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: at(time.Hour)}, apperr.ErrAccessDenied},
		{"run_at now", alice, CreateScheduleInput{PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: at(0)}, apperr.ErrTimeMustBeFuture},
		{"run_at past", alice, CreateScheduleInput{PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: at(-time.Minute)}, apperr.ErrTimeMustBeFuture},
		{"beyond horizon", alice, CreateScheduleInput{PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: at(DefaultHorizon + time.Second)}, apperr.ErrTimeTooFar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateSchedule(ctx, tc.p, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.svc.CreateSchedule(ctx, alice, CreateScheduleInput{PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: at(DefaultHorizon)})
	assert.NoError(t, err, "恰好 90 天允许")

	var cnt int64
	require.NoError(t, f.db.Model(&model.Schedule{}).Count(&cnt).Error)
	assert.EqualValues(t, 1, cnt, "校验失败不落库")
}

func TestCreateScheduleChecksConnection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		conn string
		want error
	}{
		{"foreign connection", "bob-conn", apperr.ErrAccessDenied},
		{"missing connection", "does-not-exist", apperr.ErrConnectionNotFound},
		{"platform mismatch", "conn-bsky", apperr.ErrConnectionMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := f.svc.CreateSchedule(ctx, alice, CreateScheduleInput{
				PostVariantID: "var-1", ChannelConnectionID: tc.conn, RunAt: at(time.Hour),
			})
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, s)
		})
	}

	var cnt int64
	require.NoError(t, f.db.Model(&model.Schedule{}).Count(&cnt).Error)
	assert.Zero(t, cnt)
}

func TestUpdateScheduleChecksConnection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.create(t, time.Hour)

	for conn, want := range map[string]error{
		"bob-conn":       apperr.ErrAccessDenied,
		"does-not-exist": apperr.ErrConnectionNotFound,
		"conn-bsky":      apperr.ErrConnectionMismatch,
	} {
		c := conn
		_, err := f.svc.UpdateSchedule(ctx, alice, s.ID, UpdateScheduleInput{ChannelConnectionID: &c})
		assert.ErrorIs(t, err, want, conn)
	}

	got, err := f.store.Schedules.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got.ChannelConnectionID)
	assert.Empty(t, f.domainEvents(t, events.ScheduleUpdated))
}

func TestCreateScheduleRunAtWithOffset(t *testing.T) {
	f := setup(t)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	runAt := now.Add(2 * time.Hour).In(tokyo)

	s, err := f.svc.CreateSchedule(context.Background(), alice, CreateScheduleInput{
		PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: &runAt,
	})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, s.RunAt.Location())
	assert.True(t, s.RunAt.Equal(runAt))
}

func TestWithHorizon(t *testing.T) {
	f := setup(t)
	svc := NewScheduleService(f.store, catalog.New(f.db, nil), WithClock(func() time.Time { return now }), WithHorizon(24*time.Hour))
	_, err := svc.CreateSchedule(context.Background(), alice, CreateScheduleInput{
		PostVariantID: "var-1", ChannelConnectionID: "conn-1", RunAt: at(25 * time.Hour),
	})
	assert.ErrorIs(t, err, apperr.ErrTimeTooFar)
}

func TestGetSchedule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.create(t, time.Hour)
	require.NoError(t, f.store.Events.Create(ctx, &model.PublishEvent{ScheduleID: s.ID, AttemptIndex: 2, Status: model.PublishEventSuccess}))
	require.NoError(t, f.store.Events.Create(ctx, &model.PublishEvent{ScheduleID: s.ID, AttemptIndex: 1, Status: model.PublishEventFailed}))

	d, err := f.svc.GetSchedule(ctx, alice, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, d.ID)
	require.Len(t, d.PublishEvents, 2)
	assert.Equal(t, 1, d.PublishEvents[0].AttemptIndex)

	_, err = f.svc.GetSchedule(ctx, bob, s.ID)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	_, err = f.svc.GetSchedule(ctx, alice, "missing")
	assert.ErrorIs(t, err, apperr.ErrScheduleNotFound)
}

func TestListSchedules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		f.create(t, time.Duration(i)*time.Hour)
	}

	list, err := f.svc.ListSchedules(ctx, alice, ListFilter{}, Pagination{})
	require.NoError(t, err)
	assert.EqualValues(t, 25, list.Total)
	assert.Len(t, list.Items, 20)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 20, list.PageSize)

	list, err = f.svc.ListSchedules(ctx, alice, ListFilter{}, Pagination{Page: 2, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, list.Items, 5)

	list, err = f.svc.ListSchedules(ctx, alice, ListFilter{}, Pagination{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, list.PageSize)

	list, err = f.svc.ListSchedules(ctx, bob, ListFilter{}, Pagination{})
	require.NoError(t, err)
	assert.Zero(t, list.Total, "只能看到自己的调度")

	_, err = f.svc.ListSchedules(ctx, alice, ListFilter{Statuses: []model.ScheduleStatus{"bogus"}}, Pagination{})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
}

func TestListByDateRange(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, 24*time.Hour)
	f.create(t, 72*time.Hour)
	c := f.create(t, 48*time.Hour)
	f.setStatus(t, c.ID, model.ScheduleStatusCancelled)

	items, err := f.svc.ListByDateRange(ctx, alice, now, now.Add(50*time.Hour), ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, a.ID, items[0].ID)

	items, err = f.svc.ListByDateRange(ctx, alice, now, now.Add(50*time.Hour),
		ListFilter{Statuses: []model.ScheduleStatus{model.ScheduleStatusPending}})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = f.svc.ListByDateRange(ctx, alice, now.Add(time.Hour), now, ListFilter{})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
	_, err = f.svc.ListByDateRange(ctx, alice, time.Time{}, now, ListFilter{})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
}

func TestUpdateSchedule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.create(t, time.Hour)

	tz := "Asia/Tokyo"
	conn := "conn-2"
	updated, err := f.svc.UpdateSchedule(ctx, alice, s.ID, UpdateScheduleInput{RunAt: at(3 * time.Hour), Timezone: &tz, ChannelConnectionID: &conn})
	require.NoError(t, err)
	assert.True(t, updated.RunAt.Equal(now.Add(3*time.Hour)))
	assert.Equal(t, tz, updated.Timezone)
	assert.Equal(t, conn, updated.ChannelConnectionID)
	assert.Len(t, f.domainEvents(t, events.ScheduleUpdated), 1)

	_, err = f.svc.UpdateSchedule(ctx, alice, s.ID, UpdateScheduleInput{RunAt: at(-time.Hour)})
	assert.ErrorIs(t, err, apperr.ErrTimeMustBeFuture)
	_, err = f.svc.UpdateSchedule(ctx, alice, s.ID, UpdateScheduleInput{RunAt: at(DefaultHorizon + time.Hour)})
	assert.ErrorIs(t, err, apperr.ErrTimeTooFar)
	bad := "Nowhere/Land"
	_, err = f.svc.UpdateSchedule(ctx, alice, s.ID, UpdateScheduleInput{Timezone: &bad})
	assert.ErrorIs(t, err, apperr.ErrInvalidTimezone)

	_, err = f.svc.UpdateSchedule(ctx, bob, s.ID, UpdateScheduleInput{RunAt: at(2 * time.Hour)})
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	_, err = f.svc.UpdateSchedule(ctx, alice, "missing", UpdateScheduleInput{RunAt: at(2 * time.Hour)})
	assert.ErrorIs(t, err, apperr.ErrScheduleNotFound)
}

func TestUpdateScheduleStatusRules(t *testing.T) {
	ctx := context.Background()
	for _, st := range []model.ScheduleStatus{
		model.ScheduleStatusQueued, model.ScheduleStatusProcessing,
		model.ScheduleStatusSuccess, model.ScheduleStatusCancelled,
	} {
		t.Run(string(st), func(t *testing.T) {
			f := setup(t)
			s := f.create(t, time.Hour)
			f.setStatus(t, s.ID, st)
			_, err := f.svc.UpdateSchedule(ctx, alice, s.ID, UpdateScheduleInput{RunAt: at(2 * time.Hour)})
			assert.ErrorIs(t, err, apperr.ErrCannotBeModified)
		})
	}
}

func TestRescheduleFailedReturnsToPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.create(t, time.Hour)
	_, err := f.store.Schedules.UpdateStatus(ctx, s.ID, model.ScheduleStatusFailed, &model.ErrorDetails{Code: "TOKEN_INVALID", Message: "expired"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateSchedule(ctx, alice, s.ID, UpdateScheduleInput{RunAt: at(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, updated.Status)
}

func TestCancelSchedule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s := f.create(t, time.Hour)
	cancelled, err := f.svc.CancelSchedule(ctx, alice, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusCancelled, cancelled.Status)
	assert.Len(t, f.domainEvents(t, events.ScheduleCancelled), 1)

	_, err = f.svc.CancelSchedule(ctx, alice, s.ID)
	assert.ErrorIs(t, err, apperr.ErrCannotBeCancelled, "cancelled 为终态")

	q := f.create(t, time.Hour)
	f.setStatus(t, q.ID, model.ScheduleStatusQueued)
	_, err = f.svc.CancelSchedule(ctx, alice, q.ID)
	assert.NoError(t, err)

	for _, st := range []model.ScheduleStatus{model.ScheduleStatusProcessing, model.ScheduleStatusSuccess, model.ScheduleStatusFailed} {
		x := f.create(t, time.Hour)
		f.setStatus(t, x.ID, st)
		_, err = f.svc.CancelSchedule(ctx, alice, x.ID)
		assert.ErrorIs(t, err, apperr.ErrCannotBeCancelled, st)
	}

	_, err = f.svc.CancelSchedule(ctx, bob, q.ID)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
}

func TestDeleteSchedule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s := f.create(t, time.Hour)
	f.setStatus(t, s.ID, model.ScheduleStatusProcessing)
	require.NoError(t, f.svc.DeleteSchedule(ctx, alice, s.ID, false), "任意状态均可删除")

	_, err := f.svc.GetSchedule(ctx, alice, s.ID)
	assert.ErrorIs(t, err, apperr.ErrScheduleNotFound)
	assert.ErrorIs(t, f.svc.DeleteSchedule(ctx, alice, s.ID, false), apperr.ErrScheduleNotFound)

	var raw model.Schedule
	require.NoError(t, f.db.First(&raw, "id = ?", s.ID).Error)
	assert.True(t, raw.IsDeleted)

	p := f.create(t, time.Hour)
	require.NoError(t, f.store.Events.Create(ctx, &model.PublishEvent{ScheduleID: p.ID, AttemptIndex: 1, Status: model.PublishEventFailed}))
	assert.ErrorIs(t, f.svc.DeleteSchedule(ctx, bob, p.ID, true), apperr.ErrAccessDenied)
	require.NoError(t, f.svc.DeleteSchedule(ctx, alice, p.ID, true))
	var cnt int64
	require.NoError(t, f.db.Model(&model.Schedule{}).Where("id = ?", p.ID).Count(&cnt).Error)
	assert.Zero(t, cnt)
	require.NoError(t, f.db.Model(&model.PublishEvent{}).Where("schedule_id = ?", p.ID).Count(&cnt).Error)
	assert.Zero(t, cnt)

	assert.Len(t, f.domainEvents(t, events.ScheduleDeleted), 2)
}
