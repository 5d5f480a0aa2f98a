// Package publisher 定义外部平台发布适配器。
package publisher

import "context"

// Connection 已解密的渠道连接，仅在单次尝试内有效，不得缓存
type Connection struct {
	ID                string
	Platform          string
	ExternalAccountID string
	AccessToken       string
}

// Content 待发布的 variant 内容
type Content struct {
	VariantID string
	PostID    string
	Body      string
	MediaURLs []string
}

// Result 发布成功后平台返回的信息
type Result struct {
	ExternalPostID string
	ExternalURL    string
	RawResponse    string
}

// Publisher 单个平台的发布客户端。失败时返回 *ClassifiedError，
// 其他错误由 Classify 归类。
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, conn Connection, content Content) (*Result, error)
}
