package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/pkg/logger"
)

// Broker 外发已提交的领域事件
type Broker interface {
	Publish(ctx context.Context, ev *model.DomainEvent) error
}

// RedisStreamBroker 以 XADD 写入 Redis Stream
type RedisStreamBroker struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamBroker(client *redis.Client, stream string, maxLen int64) *RedisStreamBroker {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisStreamBroker{client: client, stream: stream, maxLen: maxLen}
}

func (b *RedisStreamBroker) Publish(ctx context.Context, ev *model.DomainEvent) error {
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":           ev.ID,
			"event_type":   ev.EventType,
			"event_name":   ev.EventName,
			"entity_type":  ev.EntityType,
			"entity_id":    ev.EntityID,
			"principal_id": ev.PrincipalID,
			"metadata":     string(ev.Metadata),
			"created_at":   ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// LogBroker 未配置 Redis 时只写日志
type LogBroker struct{}

func (LogBroker) Publish(_ context.Context, ev *model.DomainEvent) error {
	logger.Info("domain event",
		zap.String("event_name", ev.EventName),
		zap.String("entity_id", ev.EntityID),
		zap.String("principal_id", ev.PrincipalID),
		zap.ByteString("metadata", ev.Metadata),
	)
	return nil
}
