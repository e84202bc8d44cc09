package storage

import (
	"time"
)

// OrderRecord 订单生命周期记录
// 数值字段以十进制字符串落库，避免浮点精度损失
type OrderRecord struct {
	ID            uint   `gorm:"primaryKey"`
	OrderID       string `gorm:"index;size:64"`
	ClientOrderID string `gorm:"index;size:64"`
	ParentOrderID string `gorm:"index;size:64"` // 保护腿指向入场单
	LegType       string `gorm:"size:16"`       // stop_loss / take_profit，空为入场单
	Exchange      string `gorm:"index;size:32"`
	AccountID     string `gorm:"index;size:64"`
	Symbol        string `gorm:"index;size:32"`
	Side          string `gorm:"size:8"`
	Type          string `gorm:"size:24"`
	State         string `gorm:"index;size:24"` // 生命周期状态
	Quantity      string `gorm:"size:40"`
	Price         string `gorm:"size:40"`
	ExecutedQty   string `gorm:"size:40"`
	AvgPrice      string `gorm:"size:40"`
	Reason        string `gorm:"size:255"` // 拒绝或失败原因
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 表名
func (OrderRecord) TableName() string {
	return "orders"
}

// FillRecord 原始成交记录
type FillRecord struct {
	ID        uint   `gorm:"primaryKey"`
	TradeID   string `gorm:"uniqueIndex:idx_fill_exchange_trade;size:64"`
	Exchange  string `gorm:"uniqueIndex:idx_fill_exchange_trade;size:32"`
	OrderID   string `gorm:"index;size:64"`
	AccountID string `gorm:"index;size:64"`
	Symbol    string `gorm:"index;size:32"`
	Side      string `gorm:"size:8"`
	Price     string `gorm:"size:40"`
	Quantity  string `gorm:"size:40"`
	Fee       string `gorm:"size:40"`
	FeeAsset  string `gorm:"size:16"`
	Timestamp time.Time `gorm:"index"`
	CreatedAt time.Time
}

// TableName 表名
func (FillRecord) TableName() string {
	return "fills"
}

// PositionSnapshot 当前持仓快照
type PositionSnapshot struct {
	ID            uint   `gorm:"primaryKey"`
	Exchange      string `gorm:"uniqueIndex:idx_pos_key;size:32"`
	AccountID     string `gorm:"uniqueIndex:idx_pos_key;size:64"`
	Symbol        string `gorm:"uniqueIndex:idx_pos_key;size:32"`
	PositionSide  string `gorm:"uniqueIndex:idx_pos_key;size:8"`
	Quantity      string `gorm:"size:40"` // 带符号，空头为负
	EntryPrice    string `gorm:"size:40"`
	UnrealizedPnL string `gorm:"size:40"`
	Leverage      int
	UpdatedAt     time.Time
}

// TableName 表名
func (PositionSnapshot) TableName() string {
	return "positions"
}

// ClosedPositionRecord 由成交回放生成的平仓记录
type ClosedPositionRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Exchange     string `gorm:"index;size:32"`
	AccountID    string `gorm:"index;size:64"`
	Symbol       string `gorm:"index;size:32"`
	PositionSide string `gorm:"size:8"`
	Quantity     string `gorm:"size:40"` // 开仓总量，绝对值
	EntryPrice   string `gorm:"size:40"` // 加权均价
	ExitPrice    string `gorm:"size:40"`
	RealizedPnL  string `gorm:"size:40"`
	Fees         string `gorm:"size:40"`
	FillCount    int
	Interleaved  bool // 多空成交交错，结果需人工复核
	OpenedAt     time.Time
	ClosedAt     time.Time `gorm:"index"`
	CreatedAt    time.Time
}

// TableName 表名
func (ClosedPositionRecord) TableName() string {
	return "closed_positions"
}
