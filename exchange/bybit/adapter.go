package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/logger"
)

// Side 订单方向
type Side string

// OrderType 订单类型
type OrderType string

// OrderStatus 订单状态
type OrderStatus string

// PositionSide 持仓方向
type PositionSide string

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   string
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

// BybitAdapter Bybit USDT 永续合约适配器
type BybitAdapter struct {
	client *BybitClient
}

// NewBybitAdapter 创建 Bybit 适配器
func NewBybitAdapter(cfg map[string]string) (*BybitAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("bybit 缺少 api_key 或 secret_key")
	}

	useTestnet := cfg["testnet"] == "true"
	adapter := &BybitAdapter{
		client: NewBybitClient(apiKey, secretKey, useTestnet),
	}
	adapter.client.SyncTime(context.Background())
	return adapter, nil
}

// GetName 获取交易所名称
func (a *BybitAdapter) GetName() string {
	return "bybit"
}

// Client 返回底层客户端，仅供测试使用
func (a *BybitAdapter) Client() *BybitClient {
	return a.client
}

// GetSymbolFilters 获取交易对精度约束
func (a *BybitAdapter) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	data, err := a.client.get(ctx, "/v5/market/instruments-info", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	})
	if err != nil {
		return nil, fmt.Errorf("获取交易规则失败: %w", err)
	}

	var resp struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep        string `json:"qtyStep"`
				MinOrderQty    string `json:"minOrderQty"`
				MinNotionalVal string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析交易规则失败: %w", err)
	}
	if len(resp.List) == 0 {
		return nil, fmt.Errorf("交易对 %s 不存在", symbol)
	}

	info := resp.List[0]
	return &SymbolFilters{
		Symbol:      symbol,
		StepSize:    parseDecimal(info.LotSizeFilter.QtyStep),
		MinQty:      parseDecimal(info.LotSizeFilter.MinOrderQty),
		MinNotional: parseDecimal(info.LotSizeFilter.MinNotionalVal),
		TickSize:    parseDecimal(info.PriceFilter.TickSize),
		FetchedAt:   time.Now(),
	}, nil
}

// PlaceOrder 下单
// 全量平仓的止损/止盈走仓位级 trading-stop 接口
func (a *BybitAdapter) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if (req.Type == "STOP_MARKET" || req.Type == "TAKE_PROFIT_MARKET") && req.ClosePosition {
		return a.setTradingStop(ctx, req)
	}

	body := map[string]interface{}{
		"category":  "linear",
		"symbol":    req.Symbol,
		"side":      sideToBybit(req.Side),
		"orderType": ordTypeToBybit(req.Type),
		"qty":       req.Quantity.String(),
	}
	if req.Price.Sign() > 0 {
		body["price"] = req.Price.String()
	}
	if req.TimeInForce != "" {
		body["timeInForce"] = req.TimeInForce
	}
	if req.ClientOrderID != "" {
		body["orderLinkId"] = req.ClientOrderID
	}
	body["positionIdx"] = positionIdx(req.PositionSide)
	// 双向持仓模式下开平方向由 positionIdx 与 side 共同表达
	if req.PositionSide != "LONG" && req.PositionSide != "SHORT" && req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.StopPrice.Sign() > 0 {
		body["triggerPrice"] = req.StopPrice.String()
		body["triggerDirection"] = triggerDirection(req)
	}

	data, err := a.client.post(ctx, "/v5/order/create", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析下单响应失败: %w", err)
	}

	order, err := a.GetOrder(ctx, req.Symbol, resp.OrderID)
	if err != nil {
		logger.Warn("⚠️ bybit 下单回查失败，返回回执状态: %v", err)
		return &Order{
			OrderID:       resp.OrderID,
			ClientOrderID: resp.OrderLinkID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Status:        "NEW",
			Quantity:      req.Quantity,
			Price:         req.Price,
			CreatedAt:     time.Now(),
		}, nil
	}

	logger.Info("✅ bybit 下单成功: %s %s %s 数量=%s 状态=%s",
		order.Symbol, order.Side, order.Type, order.Quantity.String(), order.Status)
	return order, nil
}

// setTradingStop 设置仓位级止损/止盈
func (a *BybitAdapter) setTradingStop(ctx context.Context, req *OrderRequest) (*Order, error) {
	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      req.Symbol,
		"positionIdx": positionIdx(req.PositionSide),
	}
	if req.Type == "STOP_MARKET" {
		body["stopLoss"] = req.StopPrice.String()
	} else {
		body["takeProfit"] = req.StopPrice.String()
	}

	if _, err := a.client.post(ctx, "/v5/position/trading-stop", body); err != nil {
		return nil, err
	}

	logger.Info("✅ bybit 仓位保护已设置: %s %s 触发价=%s", req.Symbol, req.Type, req.StopPrice.String())
	// trading-stop 不产生独立订单 ID，返回合成回执
	return &Order{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    "NEW",
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder 取消订单
func (a *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := a.client.post(ctx, "/v5/order/cancel", map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	})
	if err != nil {
		return err
	}
	logger.Info("✅ bybit 订单已取消: %s %s", symbol, orderID)
	return nil
}

// GetOrder 查询订单
func (a *BybitAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	orders, err := a.queryOrders(ctx, map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("订单 %s 不存在", orderID)
	}
	return orders[0], nil
}

// GetOpenOrders 查询未完结订单
func (a *BybitAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error) {
	return a.queryOrders(ctx, map[string]string{
		"category":  "linear",
		"symbol":    symbol,
		"openOnly":  "0",
		"orderType": "",
	})
}

func (a *BybitAdapter) queryOrders(ctx context.Context, params map[string]string) ([]*Order, error) {
	// 空值参数不参与签名
	for k, v := range params {
		if v == "" {
			delete(params, k)
		}
	}
	data, err := a.client.get(ctx, "/v5/order/realtime", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		List []bybitOrder `json:"list"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析订单失败: %w", err)
	}

	orders := make([]*Order, len(resp.List))
	for i := range resp.List {
		orders[i] = resp.List[i].toOrder()
	}
	return orders, nil
}

// GetPositions 查询持仓
func (a *BybitAdapter) GetPositions(ctx context.Context, symbol string) ([]*Position, error) {
	data, err := a.client.get(ctx, "/v5/position/list", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
			PositionIdx   int    `json:"positionIdx"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析持仓失败: %w", err)
	}

	var positions []*Position
	for _, p := range resp.List {
		qty := parseDecimal(p.Size)
		if qty.IsZero() {
			continue
		}
		if p.Side == "Sell" {
			qty = qty.Neg()
		}
		leverage, _ := strconv.Atoi(p.Leverage)
		updated, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)
		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			PositionSide:  posSideFromIdx(p.PositionIdx),
			Quantity:      qty,
			EntryPrice:    parseDecimal(p.AvgPrice),
			MarkPrice:     parseDecimal(p.MarkPrice),
			UnrealizedPnL: parseDecimal(p.UnrealisedPnl),
			Leverage:      leverage,
			UpdatedAt:     time.UnixMilli(updated),
		})
	}
	return positions, nil
}

// GetFills 查询 since 之后的成交记录
// Bybit 按时间倒序返回，转为升序
func (a *BybitAdapter) GetFills(ctx context.Context, symbol string, since time.Time) ([]*Fill, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"limit":    "100",
	}
	if !since.IsZero() {
		params["startTime"] = strconv.FormatInt(since.UnixMilli(), 10)
	}

	data, err := a.client.get(ctx, "/v5/execution/list", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		List []struct {
			ExecID   string `json:"execId"`
			OrderID  string `json:"orderId"`
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			ExecPx   string `json:"execPrice"`
			ExecQty  string `json:"execQty"`
			ExecFee  string `json:"execFee"`
			ExecTime string `json:"execTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析成交记录失败: %w", err)
	}

	n := len(resp.List)
	fills := make([]*Fill, n)
	for i, f := range resp.List {
		ts, _ := strconv.ParseInt(f.ExecTime, 10, 64)
		fills[n-1-i] = &Fill{
			TradeID:   f.ExecID,
			OrderID:   f.OrderID,
			Symbol:    f.Symbol,
			Side:      sideFromBybit(f.Side),
			Price:     parseDecimal(f.ExecPx),
			Quantity:  parseDecimal(f.ExecQty),
			Fee:       parseDecimal(f.ExecFee).Abs(),
			FeeAsset:  "USDT",
			Timestamp: time.UnixMilli(ts),
		}
	}
	return fills, nil
}

// SetLeverage 设置杠杆
func (a *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lv := strconv.Itoa(leverage)
	_, err := a.client.post(ctx, "/v5/position/set-leverage", map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lv,
		"sellLeverage": lv,
	})
	if err != nil {
		// 目标杠杆与当前一致时 Bybit 返回 110043，不视为失败
		if apiErr, ok := err.(*APIError); ok && apiErr.Code == 110043 {
			return nil
		}
		return err
	}
	logger.Info("✅ bybit 杠杆已设置: %s %dx", symbol, leverage)
	return nil
}

// bybitOrder 订单响应
type bybitOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	OrderStatus string `json:"orderStatus"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	ReduceOnly  bool   `json:"reduceOnly"`
	PositionIdx int    `json:"positionIdx"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

func (o *bybitOrder) toOrder() *Order {
	created, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
	updated, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
	return &Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        o.Symbol,
		Side:          sideFromBybit(o.Side),
		Type:          ordTypeFromBybit(o.OrderType),
		Status:        statusFromBybit(o.OrderStatus),
		Price:         parseDecimal(o.Price),
		Quantity:      parseDecimal(o.Qty),
		ExecutedQty:   parseDecimal(o.CumExecQty),
		AvgPrice:      parseDecimal(o.AvgPrice),
		ReduceOnly:    o.ReduceOnly,
		PositionSide:  posSideFromIdx(o.PositionIdx),
		CreatedAt:     time.UnixMilli(created),
		UpdatedAt:     time.UnixMilli(updated),
	}
}

func sideToBybit(s Side) string {
	if s == "SELL" {
		return "Sell"
	}
	return "Buy"
}

func sideFromBybit(s string) Side {
	if s == "Sell" {
		return "SELL"
	}
	return "BUY"
}

func ordTypeToBybit(t OrderType) string {
	if t == "LIMIT" {
		return "Limit"
	}
	return "Market"
}

func ordTypeFromBybit(t string) OrderType {
	if t == "Limit" {
		return "LIMIT"
	}
	return "MARKET"
}

// positionIdx 0=单向持仓 1=双向多头 2=双向空头
func positionIdx(p PositionSide) int {
	switch p {
	case "LONG":
		return 1
	case "SHORT":
		return 2
	}
	return 0
}

func posSideFromIdx(idx int) PositionSide {
	switch idx {
	case 1:
		return "LONG"
	case 2:
		return "SHORT"
	}
	return "BOTH"
}

// triggerDirection 1=价格上穿触发 2=价格下穿触发
func triggerDirection(req *OrderRequest) int {
	if req.Side == "SELL" {
		if req.Type == "TAKE_PROFIT_MARKET" {
			return 1
		}
		return 2
	}
	if req.Type == "TAKE_PROFIT_MARKET" {
		return 2
	}
	return 1
}

func statusFromBybit(s string) OrderStatus {
	switch s {
	case "New", "Created", "Untriggered":
		return "NEW"
	case "PartiallyFilled":
		return "PARTIALLY_FILLED"
	case "Filled":
		return "FILLED"
	case "Cancelled", "PartiallyFilledCanceled":
		return "CANCELED"
	case "Rejected":
		return "REJECTED"
	case "Deactivated":
		return "EXPIRED"
	}
	return OrderStatus(s)
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Warn("⚠️ bybit 数值解析失败: %q", s)
		return decimal.Zero
	}
	return d
}
