package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/d60-Lab/publish-scheduler/internal/model"
)

var (
	// ErrNotFound 记录不存在（或已软删除）
	ErrNotFound = errors.New("repository: record not found")
	// ErrLocked 行锁已被其他事务持有
	ErrLocked = errors.New("repository: row locked by another transaction")
)

// Store 聚合调度相关仓储，Transaction 内的 Store 共享同一个事务
type Store struct {
	db        *gorm.DB
	Schedules ScheduleRepository
	Events    PublishEventRepository
	Outbox    OutboxRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Schedules: NewScheduleRepository(db),
		Events:    NewPublishEventRepository(db),
		Outbox:    NewOutboxRepository(db),
	}
}

// DB 返回底层连接（测试与 bench 使用）
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction 在一个数据库事务内执行 fn，fn 返回错误时回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// Migrate 初始化调度相关表结构
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Post{},
		&model.PostVariant{},
		&model.ChannelConnection{},
		&model.Schedule{},
		&model.PublishEvent{},
		&model.DomainEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate scheduler tables: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
