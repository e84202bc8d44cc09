package notify

import (
	"ordermesh/config"
	"ordermesh/event"
	"ordermesh/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
// 发送是即发即弃的：通知失败只记日志，绝不阻塞交易路径。
type NotificationService struct {
	notifiers []Notifier
	cfg       *config.Config
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{cfg: cfg}

	if cfg.Notifications.Enabled {
		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			ns.notifiers = append(ns.notifiers, NewWebhookNotifier(cfg))
			logger.Info("✅ Webhook 通知已启用")
		}

		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			ns.notifiers = append(ns.notifiers, NewTelegramNotifier(cfg))
			logger.Info("✅ Telegram 通知已启用")
		}
	}

	return ns
}

// Notify 异步发送事件到所有渠道
func (ns *NotificationService) Notify(evt *event.Event) {
	for _, n := range ns.notifiers {
		go func(n Notifier) {
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(n)
	}
}

// SecurityEvent 实现 replay.AlertSink 接口
func (ns *NotificationService) SecurityEvent(title, message string) {
	evt := event.New(event.TypeSecurity, event.LevelCritical, title, message)
	ns.Notify(evt)
}
