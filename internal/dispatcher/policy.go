package dispatcher

import (
	"time"

	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/publisher"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = time.Hour
)

// RetryPolicy 自动重试策略
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultBackoffBase
	}
	if p.Max <= 0 {
		p.Max = DefaultBackoffMax
	}
	return p
}

// Backoff base * 2^attemptCount，上限 Max
func (p RetryPolicy) Backoff(attemptCount int) time.Duration {
	p = p.withDefaults()
	d := p.Base
	for i := 0; i < attemptCount; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	return d
}

// ShouldRetry 可重试且还有余量
func (p RetryPolicy) ShouldRetry(s *model.Schedule, ce *publisher.ClassifiedError) bool {
	p = p.withDefaults()
	return ce != nil && ce.Retryable && s.CanRetry(p.MaxAttempts)
}

// NextRunAt 计算重试时间；平台给出的 RetryAfter 作为下限
func (p RetryPolicy) NextRunAt(now time.Time, attemptCount int, ce *publisher.ClassifiedError) time.Time {
	d := p.Backoff(attemptCount)
	if ce != nil && ce.RetryAfter > d {
		d = ce.RetryAfter
	}
	return now.Add(d).UTC()
}
