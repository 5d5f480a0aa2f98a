package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/publish-scheduler/config"
	"github.com/d60-Lab/publish-scheduler/internal/dispatcher"
	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/publisher"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
	"github.com/d60-Lab/publish-scheduler/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// benchCatalog 固定内容，绕过 post/connection 表
type benchCatalog struct{}

func (benchCatalog) GetContent(_ context.Context, variantID string) (*publisher.Content, error) {
	return &publisher.Content{VariantID: variantID, Body: "bench"}, nil
}

func (benchCatalog) GetConnection(_ context.Context, id string) (*publisher.Connection, error) {
	return &publisher.Connection{ID: id, Platform: "bench", AccessToken: "t"}, nil
}

func (benchCatalog) MarkPublished(context.Context, string) error { return nil }

// countingPublisher 记录每个 variant 被发布的次数
type countingPublisher struct {
	latency time.Duration
	total   atomic.Int64
	mu      sync.Mutex
	seen    map[string]int
}

func (p *countingPublisher) Publish(ctx context.Context, _ publisher.Connection, c publisher.Content) (*publisher.Result, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := p.total.Add(1)
	p.mu.Lock()
	p.seen[c.VariantID]++
	p.mu.Unlock()
	return &publisher.Result{ExternalPostID: fmt.Sprintf("ext-%d", n)}, nil
}

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := repository.Migrate(db); err != nil {
		panic(err)
	}
	store := repository.NewStore(db)
	ctx := context.Background()

	N := envInt("N", 2000)
	K := envInt("K", 4)
	WORKERS := envInt("WORKERS", 8)
	LATENCY := time.Duration(envInt("LATENCY_MS", 5)) * time.Millisecond

	// seed：run_at 略晚于 now，扫描时钟拨到未来
	base := time.Now().UTC()
	runAt := base.Add(time.Minute)
	variants := make(map[string]string, N)
	st := time.Now()
	for i := 0; i < N; i++ {
		s := &model.Schedule{
			PostVariantID:       uuid.NewString(),
			ChannelConnectionID: "bench-conn",
			OwnerID:             "bench",
			RunAt:               runAt,
		}
		if err := store.Schedules.Create(ctx, s); err != nil {
			panic(err)
		}
		variants[s.ID] = s.PostVariantID
	}
	fmt.Printf("seeded %d schedules in %v\n", N, time.Since(st))

	pub := &countingPublisher{latency: LATENCY, seen: make(map[string]int, N)}
	clock := func() time.Time { return runAt.Add(time.Second) }

	rounds := make([][]time.Duration, K)
	var wg sync.WaitGroup
	st = time.Now()
	for k := 0; k < K; k++ {
		d := dispatcher.New(store, benchCatalog{}, pub, dispatcher.Config{BatchLimit: 200, Workers: WORKERS})
		d.SetClock(clock)
		wg.Add(1)
		go func(k int, d *dispatcher.Dispatcher) {
			defer wg.Done()
			for {
				rs := time.Now()
				stats, err := d.RunOnce(ctx)
				rounds[k] = append(rounds[k], time.Since(rs))
				if err != nil {
					fmt.Printf("dispatcher %d: %v\n", k, err)
					return
				}
				if stats.Scanned == 0 {
					return
				}
			}
		}(k, d)
	}
	wg.Wait()
	elapsed := time.Since(st)

	pct := func(vs []time.Duration, p float64) time.Duration {
		if len(vs) == 0 {
			return 0
		}
		xs := append([]time.Duration(nil), vs...)
		sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
		k := int(float64(len(xs)) * p)
		if k >= len(xs) {
			k = len(xs) - 1
		}
		return xs[k]
	}

	var all []time.Duration
	for _, r := range rounds {
		all = append(all, r...)
	}
	dup, missing := 0, 0
	for _, v := range variants {
		switch n := pub.seen[v]; {
		case n == 0:
			missing++
		case n > 1:
			dup++
		}
	}
	var mismatched int64
	db.Raw(`SELECT COUNT(*) FROM schedules s WHERE s.attempt_count <>
		(SELECT COUNT(*) FROM publish_events e WHERE e.schedule_id = s.id)`).Scan(&mismatched)

	fmt.Printf("N=%d K=%d WORKERS=%d LATENCY=%v\n", N, K, WORKERS, LATENCY)
	fmt.Printf("published=%d in %v (%.0f/s)\n", pub.total.Load(), elapsed, float64(pub.total.Load())/elapsed.Seconds())
	fmt.Printf("round latency: p50=%v p95=%v p99=%v rounds=%d\n", pct(all, 0.5), pct(all, 0.95), pct(all, 0.99), len(all))
	fmt.Printf("duplicates=%d missing=%d attempt_count_mismatch=%d\n", dup, missing, mismatched)
}
