package repository

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// 构造：N 条调度，一半已到期
func seedSchedules(b *testing.B, store *Store, n int) {
	b.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		s := newSchedule(fmt.Sprintf("u%02d", i%50), t0.Add(time.Duration(i-n/2)*time.Minute))
		if err := store.Schedules.Create(ctx, s); err != nil {
			b.Fatalf("seed: %v", err)
		}
	}
}

func BenchmarkFindDueSchedules(b *testing.B) {
	store := NewStore(setupTestDB(b))
	seedSchedules(b, store, 5000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Schedules.FindDueSchedules(ctx, t0, 100)
	}
}

func BenchmarkListByOwner(b *testing.B) {
	store := NewStore(setupTestDB(b))
	seedSchedules(b, store, 5000)
	ctx := context.Background()

	b.Run("Page", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _, _ = store.Schedules.List(ctx, ScheduleFilter{OwnerID: "u07"}, 0, 20)
		}
	})
	b.Run("Calendar", func(b *testing.B) {
		from, to := t0.Add(-time.Hour), t0.Add(time.Hour)
		for i := 0; i < b.N; i++ {
			_, _, _ = store.Schedules.List(ctx, ScheduleFilter{OwnerID: "u07", From: &from, To: &to}, 0, 1000)
		}
	})
}

func BenchmarkClaimCycle(b *testing.B) {
	store := NewStore(setupTestDB(b))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := newSchedule("bench", t0)
		_ = store.Schedules.Create(ctx, s)
		_ = store.Transaction(ctx, func(tx *Store) error {
			if _, err := tx.Schedules.FindByIDForUpdate(ctx, s.ID); err != nil {
				return err
			}
			if _, err := tx.Schedules.ClaimDue(ctx, s.ID, t0); err != nil {
				return err
			}
			_, err := tx.Schedules.IncrementAttempt(ctx, s.ID, t0)
			return err
		})
	}
}
