package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/publish-scheduler/internal/model"
)

func TestPublishEventsOrderedByAttempt(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	s := newSchedule("u1", t0)
	require.NoError(t, store.Schedules.Create(ctx, s))

	for _, idx := range []int{2, 1, 3} {
		status := model.PublishEventFailed
		if idx == 3 {
			status = model.PublishEventSuccess
		}
		require.NoError(t, store.Events.Create(ctx, &model.PublishEvent{ScheduleID: s.ID, AttemptIndex: idx, Status: status}))
	}

	evs, err := store.Events.ListBySchedule(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	for i, ev := range evs {
		assert.Equal(t, i+1, ev.AttemptIndex)
		assert.False(t, ev.Timestamp.IsZero())
	}

	latest, err := store.Events.GetLatestBySchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.AttemptIndex)
	assert.Equal(t, model.PublishEventSuccess, latest.Status)

	cnt, err := store.Events.CountBySchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, cnt)
}

func TestPublishEventAttemptIndexUnique(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Events.Create(ctx, &model.PublishEvent{ScheduleID: "s1", AttemptIndex: 1, Status: model.PublishEventFailed}))
	err := store.Events.Create(ctx, &model.PublishEvent{ScheduleID: "s1", AttemptIndex: 1, Status: model.PublishEventSuccess})
	assert.Error(t, err, "同一 attempt 只能有一条结果")
}

func TestLatestEventMissing(t *testing.T) {
	store := NewStore(setupTestDB(t))
	_, err := store.Events.GetLatestBySchedule(context.Background(), "none")
	assert.ErrorIs(t, err, ErrNotFound)
}
