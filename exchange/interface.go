package exchange

import (
	"context"
	"time"
)

// IExchange 统一交易所接口
// 签名、时戳与精度差异由各交易所适配器内部消化
type IExchange interface {
	// GetName 获取交易所名称
	GetName() string

	// GetSymbolFilters 获取交易对精度约束
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// PlaceOrder 下单
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// CancelOrder 取消订单
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrder 查询单个订单
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// GetOpenOrders 查询未完结订单
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)

	// GetPositions 查询持仓
	GetPositions(ctx context.Context, symbol string) ([]*Position, error)

	// GetFills 查询 since 之后的成交记录，按时间升序返回
	GetFills(ctx context.Context, symbol string, since time.Time) ([]*Fill, error)

	// SetLeverage 设置杠杆
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
