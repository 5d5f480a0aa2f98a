package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBody 保留的原始响应上限
const maxResponseBody = 64 << 10

// WebhookPublisher 以 JSON POST 形式把内容推送到平台网关
//
// 请求体: {"account_id","text","media_urls"}，Authorization: Bearer <token>
// 响应体: {"id","url"}
type WebhookPublisher struct {
	platform string
	endpoint string
	client   *http.Client
}

func NewWebhookPublisher(platform, endpoint string, client *http.Client) *WebhookPublisher {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookPublisher{platform: platform, endpoint: endpoint, client: client}
}

func (w *WebhookPublisher) Platform() string { return w.platform }

type webhookRequest struct {
	AccountID string   `json:"account_id"`
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

type webhookResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (w *WebhookPublisher) Publish(ctx context.Context, conn Connection, content Content) (*Result, error) {
	payload, err := json.Marshal(webhookRequest{
		AccountID: conn.ExternalAccountID,
		Text:      content.Body,
		MediaURLs: content.MediaURLs,
	})
	if err != nil {
		return nil, Permanent(CodeContentRejected, "failed to encode content", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, Permanent(CodeUnknown, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, Retryable(CodeUnknown, "failed to read response body", err)
	}

	if ce := ClassifyHTTP(resp.StatusCode, resp.Header, string(body)); ce != nil {
		return nil, ce
	}

	var out webhookResponse
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		// 2xx 但无法识别结果，重试可能导致重复发布
		e := Permanent(CodeUnknown, fmt.Sprintf("unexpected response: %s", string(body)), err)
		e.RawResponse = string(body)
		return nil, e
	}
	return &Result{ExternalPostID: out.ID, ExternalURL: out.URL, RawResponse: string(body)}, nil
}
