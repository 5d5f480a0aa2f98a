// Package dispatcher 周期扫描到期调度，逐行加锁后调用渠道发布器并记录结果。
package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/publish-scheduler/internal/publisher"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
	"github.com/d60-Lab/publish-scheduler/pkg/logger"
	"github.com/d60-Lab/publish-scheduler/pkg/sentryx"
)

const tracerName = "github.com/d60-Lab/publish-scheduler/dispatcher"

// Catalog 调度器需要的内容与凭据来源
type Catalog interface {
	GetContent(ctx context.Context, variantID string) (*publisher.Content, error)
	// GetConnection 每次尝试都重新读取并解密，不缓存
	GetConnection(ctx context.Context, id string) (*publisher.Connection, error)
	MarkPublished(ctx context.Context, variantID string) error
}

// Publisher 发布入口（通常为 *publisher.Registry）
type Publisher interface {
	Publish(ctx context.Context, conn publisher.Connection, content publisher.Content) (*publisher.Result, error)
}

type Config struct {
	PollInterval time.Duration
	BatchLimit   int
	Workers      int
	Retry        RetryPolicy
}

// Stats 单轮扫描统计
type Stats struct {
	Scanned   int
	Claimed   int
	Published int
	Retrying  int
	Failed    int
	Skipped   int
	Errors    int
}

type counters struct {
	claimed, published, retrying, failed, skipped, errors atomic.Int64
}

// Dispatcher 扫描器 + 执行器
type Dispatcher struct {
	store     *repository.Store
	catalog   Catalog
	publisher Publisher
	cfg       Config
	tracer    trace.Tracer
	now       func() time.Time
}

func New(store *repository.Store, catalog Catalog, pub Publisher, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	cfg.Retry = cfg.Retry.withDefaults()
	return &Dispatcher{
		store:     store,
		catalog:   catalog,
		publisher: pub,
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// SetClock 替换时钟（测试与 bench 使用）
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Start 启动扫描循环；返回停止函数，等待当前轮次结束
func (d *Dispatcher) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.loop(ctx)
	}()
	return func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	logger.Info("dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_limit", d.cfg.BatchLimit),
		zap.Int("workers", d.cfg.Workers))
	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			st, err := d.RunOnce(ctx)
			if err != nil {
				// 基础设施错误：本轮跳过，下个 tick 重试
				logger.Warn("dispatch cycle failed", zap.Error(err))
				continue
			}
			if st.Scanned > 0 {
				logger.Debug("dispatch cycle done",
					zap.Int("scanned", st.Scanned), zap.Int("claimed", st.Claimed),
					zap.Int("published", st.Published), zap.Int("retrying", st.Retrying),
					zap.Int("failed", st.Failed), zap.Int("skipped", st.Skipped))
			}
		}
	}
}

// RunOnce 执行一轮扫描：无锁查询到期调度，再由工作池逐行处理
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	now := d.now()
	due, err := d.store.Schedules.FindDueSchedules(ctx, now, d.cfg.BatchLimit)
	if err != nil {
		return Stats{}, err
	}
	if len(due) == 0 {
		return Stats{}, nil
	}

	var c counters
	p := pool.New().WithMaxGoroutines(d.cfg.Workers)
	for _, s := range due {
		id := s.ID
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					err := sentryx.Recover(r, map[string]string{"schedule_id": id})
					logger.Error("dispatch worker panic", zap.String("schedule_id", id), zap.Error(err))
					c.errors.Add(1)
				}
			}()
			d.dispatchOne(ctx, id, now, &c)
		})
	}
	p.Wait()

	return Stats{
		Scanned:   len(due),
		Claimed:   int(c.claimed.Load()),
		Published: int(c.published.Load()),
		Retrying:  int(c.retrying.Load()),
		Failed:    int(c.failed.Load()),
		Skipped:   int(c.skipped.Load()),
		Errors:    int(c.errors.Load()),
	}, nil
}
