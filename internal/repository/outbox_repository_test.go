package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/publish-scheduler/internal/model"
)

func TestOutboxClaimLifecycle(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Outbox.Append(ctx, &model.DomainEvent{
			EventType: "SYSTEM", EventName: "SCHEDULE_PUBLISHED", EntityType: "schedule", EntityID: "s1",
		}))
	}

	batch, err := store.Outbox.ClaimPending(ctx, 2, t0, t0.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, batch, 2)

	rest, err := store.Outbox.ClaimPending(ctx, 10, t0, t0.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rest, 1, "已认领的事件不会被重复认领")

	require.NoError(t, store.Outbox.MarkDone(ctx, batch[0].ID, t0))
	require.NoError(t, store.Outbox.Release(ctx, batch[1].ID))

	again, err := store.Outbox.ClaimPending(ctx, 10, t0, t0.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, batch[1].ID, again[0].ID)

	var ev model.DomainEvent
	require.NoError(t, store.DB().Where("id = ?", batch[1].ID).First(&ev).Error)
	assert.Equal(t, 2, ev.Attempts)
	assert.Equal(t, model.OutboxStatusProcessing, ev.Status)
}

func TestOutboxReclaimsStaleProcessing(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Outbox.Append(ctx, &model.DomainEvent{EventType: "SYSTEM", EventName: "X", EntityType: "schedule"}))
	first, err := store.Outbox.ClaimPending(ctx, 10, t0, t0.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, first, 1)

	// 认领者崩溃：claimed_at 早于 stale 阈值后可被重新认领
	later := t0.Add(10 * time.Minute)
	again, err := store.Outbox.ClaimPending(ctx, 10, later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
}
