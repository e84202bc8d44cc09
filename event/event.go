package event

import "time"

// EventType 事件类型
type EventType string

const (
	TypeOrderFilled     EventType = "order_filled"
	TypeOrderRejected   EventType = "order_rejected"
	TypeDegradedSuccess EventType = "degraded_success" // 主单成交但保护腿失败
	TypeCircuitOpen     EventType = "circuit_open"
	TypeSecurity        EventType = "security" // 防重放降级、疑似攻击
	TypePositionClosed  EventType = "position_closed"
)

// Level 事件级别
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Event 通知事件
type Event struct {
	Type    EventType
	Level   Level
	Title   string
	Message string
	Time    time.Time
	Data    map[string]interface{}
}

// New 创建事件
func New(eventType EventType, level Level, title, message string) *Event {
	return &Event{
		Type:    eventType,
		Level:   level,
		Title:   title,
		Message: message,
		Time:    time.Now(),
		Data:    make(map[string]interface{}),
	}
}
