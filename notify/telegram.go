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

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg *config.Config) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.Notifications.Telegram.BotToken,
		chatID:   cfg.Notifications.Telegram.ChatID,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// levelEmoji 按级别选择消息前缀
func levelEmoji(level event.Level) string {
	switch level {
	case event.LevelCritical:
		return "🚨"
	case event.LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Send 发送通知
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	text := fmt.Sprintf("%s *%s*\n%s\n`%s`",
		levelEmoji(evt.Level), evt.Title, evt.Message, evt.Time.Format("2006-01-02 15:04:05"))

	payload := map[string]interface{}{
		"chat_id":    tn.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", tn.botToken)
	resp, err := tn.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("发送 Telegram 消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
