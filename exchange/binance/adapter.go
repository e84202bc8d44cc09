package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/logger"
)

// Side 订单方向
type Side string

// OrderType 订单类型
type OrderType string

// TimeInForce 有效方式
type TimeInForce string

// OrderStatus 订单状态
type OrderStatus string

// PositionSide 持仓方向
type PositionSide string

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
	PositionSide  PositionSide
	ClientOrderID string
}

// Order 订单
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

// Fill 成交记录
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

// Position 持仓
type Position struct {
	Symbol        string
	PositionSide  PositionSide
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
	UpdatedAt     time.Time
}

// SymbolFilters 交易对精度约束
type SymbolFilters struct {
	Symbol      string
	StepSize    decimal.Decimal
	TickSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	FetchedAt   time.Time
}

// BinanceAdapter Binance USDT 永续合约适配器
type BinanceAdapter struct {
	client *BinanceClient
}

// NewBinanceAdapter 创建 Binance 适配器
func NewBinanceAdapter(cfg map[string]string) (*BinanceAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("binance 缺少 api_key 或 secret_key")
	}

	useTestnet := cfg["testnet"] == "true"
	adapter := &BinanceAdapter{
		client: NewBinanceClient(apiKey, secretKey, useTestnet),
	}
	adapter.client.SyncTime(context.Background())
	return adapter, nil
}

// GetName 获取交易所名称
func (a *BinanceAdapter) GetName() string {
	return "binance"
}

// Client 返回底层客户端，仅供测试使用
func (a *BinanceAdapter) Client() *BinanceClient {
	return a.client
}

// GetSymbolFilters 获取交易对精度约束
func (a *BinanceAdapter) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	body, err := a.client.publicRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", map[string]string{
		"symbol": symbol,
	})
	if err != nil {
		return nil, fmt.Errorf("获取交易规则失败: %w", err)
	}

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析交易规则失败: %w", err)
	}

	filters := &SymbolFilters{Symbol: symbol, FetchedAt: time.Now()}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				filters.StepSize = parseDecimal(f.StepSize)
				filters.MinQty = parseDecimal(f.MinQty)
			case "PRICE_FILTER":
				filters.TickSize = parseDecimal(f.TickSize)
			case "MIN_NOTIONAL":
				filters.MinNotional = parseDecimal(f.MinNotional)
			}
		}
		return filters, nil
	}
	return nil, fmt.Errorf("交易对 %s 不存在", symbol)
}

// PlaceOrder 下单
// 双向持仓模式下发送 positionSide 且绝不发送 reduceOnly，两者互斥
func (a *BinanceAdapter) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	params := map[string]string{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"type":   string(req.Type),
	}

	hedgeMode := req.PositionSide == "LONG" || req.PositionSide == "SHORT"
	if hedgeMode {
		params["positionSide"] = string(req.PositionSide)
	} else if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	if req.ClosePosition {
		params["closePosition"] = "true"
	} else {
		params["quantity"] = req.Quantity.String()
	}
	if req.Price.Sign() > 0 {
		params["price"] = req.Price.String()
	}
	if req.StopPrice.Sign() > 0 {
		params["stopPrice"] = req.StopPrice.String()
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = string(req.TimeInForce)
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}

	body, err := a.client.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}

	var resp binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析下单响应失败: %w", err)
	}

	order := resp.toOrder()
	logger.Info("✅ binance 下单成功: %s %s %s 数量=%s 状态=%s",
		order.Symbol, order.Side, order.Type, order.Quantity.String(), order.Status)
	return order, nil
}

// CancelOrder 取消订单
func (a *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := a.client.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	})
	if err != nil {
		return err
	}
	logger.Info("✅ binance 订单已取消: %s %s", symbol, orderID)
	return nil
}

// GetOrder 查询订单
func (a *BinanceAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	body, err := a.client.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	})
	if err != nil {
		return nil, err
	}

	var resp binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析订单失败: %w", err)
	}
	return resp.toOrder(), nil
}

// GetOpenOrders 查询未完结订单
func (a *BinanceAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error) {
	body, err := a.client.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", map[string]string{
		"symbol": symbol,
	})
	if err != nil {
		return nil, err
	}

	var resp []binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析订单列表失败: %w", err)
	}

	orders := make([]*Order, len(resp))
	for i := range resp {
		orders[i] = resp[i].toOrder()
	}
	return orders, nil
}

// GetPositions 查询持仓
func (a *BinanceAdapter) GetPositions(ctx context.Context, symbol string) ([]*Position, error) {
	body, err := a.client.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", map[string]string{
		"symbol": symbol,
	})
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol        string `json:"symbol"`
		PositionSide  string `json:"positionSide"`
		PositionAmt   string `json:"positionAmt"`
		EntryPrice    string `json:"entryPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealizedPnL string `json:"unRealizedProfit"`
		Leverage      string `json:"leverage"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析持仓失败: %w", err)
	}

	var positions []*Position
	for _, p := range resp {
		qty := parseDecimal(p.PositionAmt)
		if qty.IsZero() {
			continue
		}
		leverage, _ := strconv.Atoi(p.Leverage)
		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			PositionSide:  PositionSide(p.PositionSide),
			Quantity:      qty,
			EntryPrice:    parseDecimal(p.EntryPrice),
			MarkPrice:     parseDecimal(p.MarkPrice),
			UnrealizedPnL: parseDecimal(p.UnrealizedPnL),
			Leverage:      leverage,
			UpdatedAt:     time.UnixMilli(p.UpdateTime),
		})
	}
	return positions, nil
}

// GetFills 查询 since 之后的成交记录
func (a *BinanceAdapter) GetFills(ctx context.Context, symbol string, since time.Time) ([]*Fill, error) {
	params := map[string]string{"symbol": symbol, "limit": "1000"}
	if !since.IsZero() {
		params["startTime"] = strconv.FormatInt(since.UnixMilli(), 10)
	}

	body, err := a.client.signedRequest(ctx, http.MethodGet, "/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		ID       int64  `json:"id"`
		OrderID  int64  `json:"orderId"`
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Price    string `json:"price"`
		Qty      string `json:"qty"`
		Fee      string `json:"commission"`
		FeeAsset string `json:"commissionAsset"`
		Time     int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析成交记录失败: %w", err)
	}

	fills := make([]*Fill, len(resp))
	for i, f := range resp {
		fills[i] = &Fill{
			TradeID:   strconv.FormatInt(f.ID, 10),
			OrderID:   strconv.FormatInt(f.OrderID, 10),
			Symbol:    f.Symbol,
			Side:      Side(f.Side),
			Price:     parseDecimal(f.Price),
			Quantity:  parseDecimal(f.Qty),
			Fee:       parseDecimal(f.Fee),
			FeeAsset:  f.FeeAsset,
			Timestamp: time.UnixMilli(f.Time),
		}
	}
	return fills, nil
}

// SetLeverage 设置杠杆
func (a *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := a.client.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	})
	if err != nil {
		return err
	}
	logger.Info("✅ binance 杠杆已设置: %s %dx", symbol, leverage)
	return nil
}

// binanceOrder 订单响应
type binanceOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	PositionSide  string `json:"positionSide"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o *binanceOrder) toOrder() *Order {
	createdAt := o.Time
	if createdAt == 0 {
		createdAt = o.UpdateTime
	}
	return &Order{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          Side(o.Side),
		Type:          OrderType(o.Type),
		Status:        OrderStatus(o.Status),
		Price:         parseDecimal(o.Price),
		Quantity:      parseDecimal(o.OrigQty),
		ExecutedQty:   parseDecimal(o.ExecutedQty),
		AvgPrice:      parseDecimal(o.AvgPrice),
		ReduceOnly:    o.ReduceOnly,
		PositionSide:  PositionSide(o.PositionSide),
		CreatedAt:     time.UnixMilli(createdAt),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Warn("⚠️ binance 数值解析失败: %q", s)
		return decimal.Zero
	}
	return d
}
