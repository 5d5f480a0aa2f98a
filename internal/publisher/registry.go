package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry 按平台路由发布请求，每次调用施加硬超时与平台级限流
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
	limiters   map[string]*rate.Limiter
	timeout    time.Duration
	rps        rate.Limit
	burst      int
}

func NewRegistry(timeout time.Duration, ratePerSecond float64, burst int) *Registry {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Inf
	if ratePerSecond > 0 {
		lim = rate.Limit(ratePerSecond)
	}
	return &Registry{
		publishers: map[string]Publisher{},
		limiters:   map[string]*rate.Limiter{},
		timeout:    timeout,
		rps:        lim,
		burst:      burst,
	}
}

// Register 注册平台发布器，同平台重复注册会覆盖
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.Platform()] = p
	r.limiters[p.Platform()] = rate.NewLimiter(r.rps, r.burst)
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.publishers))
	for k := range r.publishers {
		out = append(out, k)
	}
	return out
}

// Publish 调用 conn.Platform 对应的发布器；返回的错误总是 *ClassifiedError
func (r *Registry) Publish(ctx context.Context, conn Connection, content Content) (*Result, error) {
	r.mu.RLock()
	p, ok := r.publishers[conn.Platform]
	lim := r.limiters[conn.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, Permanent(CodePlatformUnsupported, fmt.Sprintf("no publisher for platform %q", conn.Platform), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := lim.Wait(ctx); err != nil {
		return nil, Retryable(CodeRateLimited, "local rate limit wait aborted", err)
	}

	res, err := p.Publish(ctx, conn, content)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, Retryable(CodeTimeout, fmt.Sprintf("publish exceeded %s", r.timeout), err)
		}
		return nil, Classify(err)
	}
	return res, nil
}
