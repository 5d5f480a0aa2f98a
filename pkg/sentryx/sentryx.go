package sentryx

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init 初始化 sentry；dsn 为空时 SDK 不上报任何事件
func Init(dsn, environment string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// Flush 进程退出前等待事件发送
func Flush() { sentry.Flush(2 * time.Second) }

// CaptureError 附带标签上报错误
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Recover 捕获 panic 并上报，返回转换后的 error
func Recover(r any, tags map[string]string) error {
	if r == nil {
		return nil
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	CaptureError(err, tags)
	return err
}
