package exchange

import (
	"context"
	"errors"
	"time"

	"ordermesh/exchange/okx"
)

// okxWrapper OKX 包装器
type okxWrapper struct {
	adapter *okx.OKXAdapter
}

// GetName 获取交易所名称
func (w *okxWrapper) GetName() string {
	return w.adapter.GetName()
}

// GetSymbolFilters 获取交易对精度约束
func (w *okxWrapper) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	f, err := w.adapter.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return nil, mapOKXError(err)
	}
	return &SymbolFilters{
		Symbol:    f.Symbol,
		StepSize:  f.StepSize,
		TickSize:  f.TickSize,
		MinQty:    f.MinQty,
		FetchedAt: f.FetchedAt,
	}, nil
}

// PlaceOrder 下单
func (w *okxWrapper) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	order, err := w.adapter.PlaceOrder(ctx, &okx.OrderRequest{
		Symbol:        req.Symbol,
		Side:          okx.Side(req.Side),
		Type:          okx.OrderType(req.Type),
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ReduceOnly:    req.ReduceOnly,
		ClosePosition: req.ClosePosition,
		PositionSide:  okx.PositionSide(req.PositionSide),
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, mapOKXError(err)
	}
	return okxOrderToOrder(order), nil
}

// CancelOrder 取消订单
func (w *okxWrapper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := w.adapter.CancelOrder(ctx, symbol, orderID); err != nil {
		return mapOKXError(err)
	}
	return nil
}

// GetOrder 查询订单
func (w *okxWrapper) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	order, err := w.adapter.GetOrder(ctx, symbol, orderID)
	if err != nil {
		return nil, mapOKXError(err)
	}
	return okxOrderToOrder(order), nil
}

// GetOpenOrders 查询未完结订单
func (w *okxWrapper) GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error) {
	orders, err := w.adapter.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, mapOKXError(err)
	}
	result := make([]*Order, len(orders))
	for i, o := range orders {
		result[i] = okxOrderToOrder(o)
	}
	return result, nil
}

// GetPositions 查询持仓
func (w *okxWrapper) GetPositions(ctx context.Context, symbol string) ([]*Position, error) {
	positions, err := w.adapter.GetPositions(ctx, symbol)
	if err != nil {
		return nil, mapOKXError(err)
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
func (w *okxWrapper) GetFills(ctx context.Context, symbol string, since time.Time) ([]*Fill, error) {
	fills, err := w.adapter.GetFills(ctx, symbol, since)
	if err != nil {
		return nil, mapOKXError(err)
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
func (w *okxWrapper) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := w.adapter.SetLeverage(ctx, symbol, leverage); err != nil {
		return mapOKXError(err)
	}
	return nil
}

func okxOrderToOrder(o *okx.Order) *Order {
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

// mapOKXError 将交易所错误归入统一错误分类
func mapOKXError(err error) error {
	if err == nil {
		return nil
	}

	var netErr *okx.NetworkError
	if errors.As(err, &netErr) {
		return &TransientError{Venue: "okx", Cause: err}
	}

	var apiErr *okx.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuth():
			return &AuthError{Venue: "okx", Code: apiErr.Code, Message: apiErr.Message}
		case apiErr.IsTransient():
			return &TransientError{Venue: "okx", Cause: err}
		default:
			return &RejectedError{Venue: "okx", Code: apiErr.Code, Message: apiErr.Message}
		}
	}

	return err
}
