package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/publisher"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
	"github.com/d60-Lab/publish-scheduler/pkg/logger"
)

const (
	DefaultStuckTimeout = 10 * time.Minute
	watchdogBatch       = 500
)

// Watchdog 把长时间停留在 processing 的调度视为崩溃的尝试并回收
type Watchdog struct {
	store        *repository.Store
	retry        RetryPolicy
	stuckTimeout time.Duration
	spec         string
	now          func() time.Time
}

func NewWatchdog(store *repository.Store, retry RetryPolicy, stuckTimeout time.Duration, spec string) *Watchdog {
	if stuckTimeout <= 0 {
		stuckTimeout = DefaultStuckTimeout
	}
	if spec == "" {
		spec = "@every 1m"
	}
	return &Watchdog{store: store, retry: retry.withDefaults(), stuckTimeout: stuckTimeout, spec: spec, now: time.Now}
}

func (w *Watchdog) SetClock(now func() time.Time) { w.now = now }

// Start 按 cron 表达式周期执行 Sweep；返回停止函数
func (w *Watchdog) Start() (func(context.Context) error, error) {
	c := cron.New()
	if _, err := c.AddFunc(w.spec, func() {
		n, err := w.Sweep(context.Background())
		if err != nil {
			logger.Warn("watchdog sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("watchdog recovered stuck schedules", zap.Int("count", n))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid watchdog spec %q: %w", w.spec, err)
	}
	c.Start()
	return func(ctx context.Context) error {
		select {
		case <-c.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}

// Sweep 回收一次，返回处理条数
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.Add(-w.stuckTimeout)
	stuck, err := w.store.Schedules.FindStuck(ctx, cutoff, watchdogBatch)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, s := range stuck {
		ok, err := w.recoverOne(ctx, s.ID, now, cutoff)
		if err != nil {
			if !errors.Is(err, repository.ErrLocked) && !errors.Is(err, repository.ErrNotFound) {
				logger.Warn("watchdog recover failed", zap.String("schedule_id", s.ID), zap.Error(err))
			}
			continue
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

// recoverOne 为遗失的 attempt 补写一条记录，保证 attempt_count 与 PublishEvent 条数一致
func (w *Watchdog) recoverOne(ctx context.Context, id string, now, cutoff time.Time) (bool, error) {
	recovered := false
	err := w.store.Transaction(ctx, func(tx *repository.Store) error {
		s, err := tx.Schedules.LockInFlight(ctx, id)
		if err != nil {
			return err
		}
		if s.LastAttemptAt == nil || !s.LastAttemptAt.Before(cutoff) {
			return nil
		}

		details := &model.ErrorDetails{
			Code:    publisher.CodeAttemptTimeout,
			Message: fmt.Sprintf("attempt %d did not report an outcome within %s", s.AttemptCount, w.stuckTimeout),
		}
		ev := &model.PublishEvent{
			ScheduleID:   s.ID,
			AttemptIndex: s.AttemptCount,
			Status:       model.PublishEventRetried,
			ErrorCode:    details.Code,
			ErrorMessage: details.Message,
			Timestamp:    now,
		}
		next := model.ScheduleStatusPending
		if !s.CanRetry(w.retry.MaxAttempts) {
			ev.Status = model.PublishEventFailed
			next = model.ScheduleStatusFailed
		}
		if err := tx.Events.Create(ctx, ev); err != nil {
			return err
		}
		ok, err := tx.Schedules.FinishAttempt(ctx, s.ID, map[string]any{
			"status":        next,
			"error_code":    details.Code,
			"error_message": details.Message,
			"updated_at":    now.UTC(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrNotFound
		}
		recovered = true
		logger.Warn("recovered stuck schedule",
			zap.String("schedule_id", s.ID),
			zap.Int("attempt", s.AttemptCount),
			zap.String("status", string(next)))
		return nil
	})
	return recovered, err
}
