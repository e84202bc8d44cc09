package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ordermesh/config"
	"ordermesh/event"
)

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.Config) *WebhookNotifier {
	timeout := time.Duration(cfg.Notifications.Webhook.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &WebhookNotifier{
		url: cfg.Notifications.Webhook.URL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name 返回通知器名称
func (wn *WebhookNotifier) Name() string {
	return "Webhook"
}

// Send 发送通知
func (wn *WebhookNotifier) Send(evt *event.Event) error {
	payload := map[string]interface{}{
		"type":    string(evt.Type),
		"level":   string(evt.Level),
		"title":   evt.Title,
		"message": evt.Message,
		"time":    evt.Time.Format(time.RFC3339),
		"data":    evt.Data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	resp, err := wn.client.Post(wn.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
