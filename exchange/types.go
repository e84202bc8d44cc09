package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向，用于保护性平仓腿
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce 有效方式
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus 交易所侧订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsFinal 判断状态是否为终态
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// PositionSide 持仓方向
// 净头寸模式下为 BOTH，双向持仓模式下为 LONG 或 SHORT
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// OrderRequest 下单意图
// Quantity/Price 使用精确十进制，规范化后才允许上行到交易所
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Quantity      decimal.Decimal
	Price         decimal.Decimal // 限价单价格，市价单为零值
	StopPrice     decimal.Decimal // 条件单触发价
	StopLoss      decimal.Decimal // 止损触发价，零值表示不挂止损腿
	TakeProfit    decimal.Decimal // 止盈触发价，零值表示不挂止盈腿
	ReduceOnly    bool
	ClosePosition bool // 条件单触发时平掉全部仓位
	PositionSide  PositionSide
	Leverage      int // 0 表示不调整杠杆
	ClientOrderID string
}

// Order 交易所返回的订单
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Status        OrderStatus
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	ReduceOnly    bool
	PositionSide  PositionSide
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Fill 原始成交记录
type Fill struct {
	TradeID   string
	OrderID   string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Fee       decimal.Decimal
	FeeAsset  string
	Timestamp time.Time
}

// SignedQuantity 按方向返回带符号数量，买入为正
func (f *Fill) SignedQuantity() decimal.Decimal {
	if f.Side == SideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// Position 交易所侧持仓快照
type Position struct {
	Symbol        string
	PositionSide  PositionSide
	Quantity      decimal.Decimal // 带符号，空头为负
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
	UpdatedAt     time.Time
}

// SymbolFilters 交易对精度约束
// 任一字段为零值即视为约束缺失，规范化时保守放行并告警
type SymbolFilters struct {
	Symbol      string
	StepSize    decimal.Decimal // 数量步进
	TickSize    decimal.Decimal // 价格步进
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	MaxLeverage int
	FetchedAt   time.Time
}
