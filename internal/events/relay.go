package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/publish-scheduler/internal/repository"
	"github.com/d60-Lab/publish-scheduler/pkg/logger"
)

// Relay 从 outbox 拉取事件并投递到 Broker
type Relay struct {
	outbox       repository.OutboxRepository
	broker       Broker
	claimLimit   int
	pollInterval time.Duration
	staleAfter   time.Duration
	now          func() time.Time
}

func NewRelay(outbox repository.OutboxRepository, broker Broker, claimLimit int, pollInterval time.Duration) *Relay {
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Relay{outbox: outbox, broker: broker, claimLimit: claimLimit, pollInterval: pollInterval, staleAfter: 5 * time.Minute, now: time.Now}
}

// Start 启动轮询；返回停止函数
func (r *Relay) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.loop(stop)
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(context.Background()); err != nil {
				logger.Warn("outbox relay cycle failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 认领一批事件并投递，返回成功投递条数
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	now := r.now()
	batch, err := r.outbox.ClaimPending(ctx, r.claimLimit, now, now.Add(-r.staleAfter))
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, ev := range batch {
		if err := r.broker.Publish(ctx, ev); err != nil {
			logger.Warn("outbox publish failed, releasing",
				zap.String("event_id", ev.ID), zap.String("event_name", ev.EventName), zap.Error(err))
			if rerr := r.outbox.Release(ctx, ev.ID); rerr != nil {
				// 未能放回，staleAfter 之后会被重新认领
				logger.Warn("outbox release failed", zap.String("event_id", ev.ID), zap.Error(rerr))
			}
			continue
		}
		if err := r.outbox.MarkDone(ctx, ev.ID, r.now()); err != nil {
			// 已投递但未标记，staleAfter 之后会被重新认领（at-least-once）
			logger.Warn("outbox mark done failed", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered, nil
}
