package exchange

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ordermesh/exchange/bybit"
)

// bybitWrapper Bybit 包装器
type bybitWrapper struct {
	adapter *bybit.BybitAdapter
}

// GetName 获取交易所名称
func (w *bybitWrapper) GetName() string {
	return w.adapter.GetName()
}

// GetSymbolFilters 获取交易对精度约束
func (w *bybitWrapper) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	f, err := w.adapter.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return nil, mapBybitError(err)
	}
	return &SymbolFilters{
		Symbol:      f.Symbol,
		StepSize:    f.StepSize,
		TickSize:    f.TickSize,
		MinQty:      f.MinQty,
		MinNotional: f.MinNotional,
		FetchedAt:   f.FetchedAt,
	}, nil
}

// PlaceOrder 下单
func (w *bybitWrapper) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	order, err := w.adapter.PlaceOrder(ctx, &bybit.OrderRequest{
		Symbol:        req.Symbol,
		Side:          bybit.Side(req.Side),
		Type:          bybit.OrderType(req.Type),
		TimeInForce:   string(req.TimeInForce),
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ReduceOnly:    req.ReduceOnly,
		ClosePosition: req.ClosePosition,
		PositionSide:  bybit.PositionSide(req.PositionSide),
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, mapBybitError(err)
	}
	return bybitOrderToOrder(order), nil
}

// CancelOrder 取消订单
func (w *bybitWrapper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := w.adapter.CancelOrder(ctx, symbol, orderID); err != nil {
		return mapBybitError(err)
	}
	return nil
}

// GetOrder 查询订单
func (w *bybitWrapper) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	order, err := w.adapter.GetOrder(ctx, symbol, orderID)
	if err != nil {
		return nil, mapBybitError(err)
	}
	return bybitOrderToOrder(order), nil
}

// GetOpenOrders 查询未完结订单
func (w *bybitWrapper) GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error) {
	orders, err := w.adapter.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, mapBybitError(err)
	}
	result := make([]*Order, len(orders))
	for i, o := range orders {
		result[i] = bybitOrderToOrder(o)
	}
	return result, nil
}

// GetPositions 查询持仓
func (w *bybitWrapper) GetPositions(ctx context.Context, symbol string) ([]*Position, error) {
	positions, err := w.adapter.GetPositions(ctx, symbol)
	if err != nil {
		return nil, mapBybitError(err)
	}
	result := make([]*Position, len(positions))
	for i, p := range positions {
		result[i] = &Position{
			Symbol:        p.Symbol,
			PositionSide:  PositionSide(p.PositionSide),
			Quantity:      p.Quantity,
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			Leverage:      p.Leverage,
			UpdatedAt:     p.UpdatedAt,
		}
	}
	return result, nil
}

// GetFills 查询成交记录
func (w *bybitWrapper) GetFills(ctx context.Context, symbol string, since time.Time) ([]*Fill, error) {
	fills, err := w.adapter.GetFills(ctx, symbol, since)
	if err != nil {
		return nil, mapBybitError(err)
	}
	result := make([]*Fill, len(fills))
	for i, f := range fills {
		result[i] = &Fill{
			TradeID:   f.TradeID,
			OrderID:   f.OrderID,
			Symbol:    f.Symbol,
			Side:      Side(f.Side),
			Price:     f.Price,
			Quantity:  f.Quantity,
			Fee:       f.Fee,
			FeeAsset:  f.FeeAsset,
			Timestamp: f.Timestamp,
		}
	}
	return result, nil
}

// SetLeverage 设置杠杆
func (w *bybitWrapper) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := w.adapter.SetLeverage(ctx, symbol, leverage); err != nil {
		return mapBybitError(err)
	}
	return nil
}

func bybitOrderToOrder(o *bybit.Order) *Order {
	return &Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          Side(o.Side),
		Type:          OrderType(o.Type),
		Status:        OrderStatus(o.Status),
		Price:         o.Price,
		Quantity:      o.Quantity,
		ExecutedQty:   o.ExecutedQty,
		AvgPrice:      o.AvgPrice,
		ReduceOnly:    o.ReduceOnly,
		PositionSide:  PositionSide(o.PositionSide),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// mapBybitError 将交易所错误归入统一错误分类
func mapBybitError(err error) error {
	if err == nil {
		return nil
	}

	var netErr *bybit.NetworkError
	if errors.As(err, &netErr) {
		return &TransientError{Venue: "bybit", Cause: err}
	}

	var apiErr *bybit.APIError
	if errors.As(err, &apiErr) {
		code := strconv.Itoa(apiErr.Code)
		switch {
		case apiErr.IsAuth():
			return &AuthError{Venue: "bybit", Code: code, Message: apiErr.Message}
		case apiErr.IsTransient():
			return &TransientError{Venue: "bybit", Cause: err}
		default:
			return &RejectedError{Venue: "bybit", Code: code, Message: apiErr.Message}
		}
	}

	return err
}
