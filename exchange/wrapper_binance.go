package exchange

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ordermesh/exchange/binance"
)

// binanceWrapper Binance 包装器
type binanceWrapper struct {
	adapter *binance.BinanceAdapter
}

// GetName 获取交易所名称
func (w *binanceWrapper) GetName() string {
	return w.adapter.GetName()
}

// GetSymbolFilters 获取交易对精度约束
func (w *binanceWrapper) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	f, err := w.adapter.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return nil, mapBinanceError(err)
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
func (w *binanceWrapper) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	order, err := w.adapter.PlaceOrder(ctx, &binance.OrderRequest{
		Symbol:        req.Symbol,
		Side:          binance.Side(req.Side),
		Type:          binance.OrderType(req.Type),
		TimeInForce:   binance.TimeInForce(req.TimeInForce),
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ReduceOnly:    req.ReduceOnly,
		ClosePosition: req.ClosePosition,
		PositionSide:  binance.PositionSide(req.PositionSide),
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, mapBinanceError(err)
	}
	return binanceOrderToOrder(order), nil
}

// CancelOrder 取消订单
func (w *binanceWrapper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := w.adapter.CancelOrder(ctx, symbol, orderID); err != nil {
		return mapBinanceError(err)
	}
	return nil
}

// GetOrder 查询订单
func (w *binanceWrapper) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	order, err := w.adapter.GetOrder(ctx, symbol, orderID)
	if err != nil {
		return nil, mapBinanceError(err)
	}
	return binanceOrderToOrder(order), nil
}

// GetOpenOrders 查询未完结订单
func (w *binanceWrapper) GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error) {
	orders, err := w.adapter.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, mapBinanceError(err)
	}
	result := make([]*Order, len(orders))
	for i, o := range orders {
		result[i] = binanceOrderToOrder(o)
	}
	return result, nil
}

// GetPositions 查询持仓
func (w *binanceWrapper) GetPositions(ctx context.Context, symbol string) ([]*Position, error) {
	positions, err := w.adapter.GetPositions(ctx, symbol)
	if err != nil {
		return nil, mapBinanceError(err)
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
func (w *binanceWrapper) GetFills(ctx context.Context, symbol string, since time.Time) ([]*Fill, error) {
	fills, err := w.adapter.GetFills(ctx, symbol, since)
	if err != nil {
		return nil, mapBinanceError(err)
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
func (w *binanceWrapper) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := w.adapter.SetLeverage(ctx, symbol, leverage); err != nil {
		return mapBinanceError(err)
	}
	return nil
}

func binanceOrderToOrder(o *binance.Order) *Order {
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

// mapBinanceError 将交易所错误归入统一错误分类
func mapBinanceError(err error) error {
	if err == nil {
		return nil
	}

	var netErr *binance.NetworkError
	if errors.As(err, &netErr) {
		return &TransientError{Venue: "binance", Cause: err}
	}

	var apiErr *binance.APIError
	if errors.As(err, &apiErr) {
		code := strconv.Itoa(apiErr.Code)
		switch {
		case apiErr.IsAuth():
			return &AuthError{Venue: "binance", Code: code, Message: apiErr.Message}
		case apiErr.IsTransient():
			return &TransientError{Venue: "binance", Cause: err}
		default:
			return &RejectedError{Venue: "binance", Code: code, Message: apiErr.Message}
		}
	}

	return err
}
