package okx

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

// OrderStatus 订单状态
type OrderStatus string

// PositionSide 持仓方向
type PositionSide string

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
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
	Symbol    string
	StepSize  decimal.Decimal
	TickSize  decimal.Decimal
	MinQty    decimal.Decimal
	FetchedAt time.Time
}

// OKXAdapter OKX 永续合约适配器
type OKXAdapter struct {
	client *OKXClient
}

// NewOKXAdapter 创建 OKX 适配器
func NewOKXAdapter(cfg map[string]string) (*OKXAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]
	passphrase := cfg["passphrase"]
	if apiKey == "" || secretKey == "" || passphrase == "" {
		return nil, fmt.Errorf("okx 缺少 api_key、secret_key 或 passphrase")
	}

	useTestnet := cfg["testnet"] == "true"
	adapter := &OKXAdapter{
		client: NewOKXClient(apiKey, secretKey, passphrase, useTestnet),
	}
	adapter.client.SyncTime(context.Background())
	return adapter, nil
}

// GetName 获取交易所名称
func (a *OKXAdapter) GetName() string {
	return "okx"
}

// Client 返回底层客户端，仅供测试使用
func (a *OKXAdapter) Client() *OKXClient {
	return a.client
}

// GetSymbolFilters 获取交易对精度约束
func (a *OKXAdapter) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	path := "/api/v5/public/instruments?instType=SWAP&instId=" + symbol
	data, err := a.client.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("获取交易规则失败: %w", err)
	}

	var resp []struct {
		InstID string `json:"instId"`
		LotSz  string `json:"lotSz"`
		TickSz string `json:"tickSz"`
		MinSz  string `json:"minSz"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析交易规则失败: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("交易对 %s 不存在", symbol)
	}

	return &SymbolFilters{
		Symbol:    symbol,
		StepSize:  parseDecimal(resp[0].LotSz),
		TickSize:  parseDecimal(resp[0].TickSz),
		MinQty:    parseDecimal(resp[0].MinSz),
		FetchedAt: time.Now(),
	}, nil
}

// PlaceOrder 下单
// 条件单走策略委托接口，普通单走交易接口
func (a *OKXAdapter) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if req.Type == "STOP_MARKET" || req.Type == "TAKE_PROFIT_MARKET" {
		return a.placeAlgoOrder(ctx, req)
	}

	body := map[string]string{
		"instId":  req.Symbol,
		"tdMode":  "cross",
		"side":    sideToOKX(req.Side),
		"ordType": ordTypeToOKX(req.Type),
		"sz":      req.Quantity.String(),
	}
	if req.Price.Sign() > 0 {
		body["px"] = req.Price.String()
	}
	if req.ClientOrderID != "" {
		body["clOrdId"] = req.ClientOrderID
	}
	// 双向持仓模式下用 posSide 表达开平方向，不发送 reduceOnly
	if req.PositionSide == "LONG" || req.PositionSide == "SHORT" {
		body["posSide"] = posSideToOKX(req.PositionSide)
	} else if req.ReduceOnly {
		body["reduceOnly"] = "true"
	}

	data, err := a.client.request(ctx, http.MethodPost, "/api/v5/trade/order", body)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析下单响应失败: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("下单响应为空")
	}
	if resp[0].SCode != "0" {
		return nil, &APIError{Code: resp[0].SCode, Message: resp[0].SMsg}
	}

	// 下单接口只回执 ID，回查获取完整状态
	order, err := a.GetOrder(ctx, req.Symbol, resp[0].OrdID)
	if err != nil {
		logger.Warn("⚠️ okx 下单回查失败，返回回执状态: %v", err)
		return &Order{
			OrderID:       resp[0].OrdID,
			ClientOrderID: resp[0].ClOrdID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Status:        "NEW",
			Quantity:      req.Quantity,
			Price:         req.Price,
			CreatedAt:     time.Now(),
		}, nil
	}

	logger.Info("✅ okx 下单成功: %s %s %s 数量=%s 状态=%s",
		order.Symbol, order.Side, order.Type, order.Quantity.String(), order.Status)
	return order, nil
}

// placeAlgoOrder 下策略委托单（止损/止盈）
func (a *OKXAdapter) placeAlgoOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	body := map[string]string{
		"instId":  req.Symbol,
		"tdMode":  "cross",
		"side":    sideToOKX(req.Side),
		"ordType": "conditional",
	}
	if req.ClosePosition {
		body["closeFraction"] = "1"
	} else {
		body["sz"] = req.Quantity.String()
	}
	if req.PositionSide == "LONG" || req.PositionSide == "SHORT" {
		body["posSide"] = posSideToOKX(req.PositionSide)
	} else if req.ReduceOnly {
		body["reduceOnly"] = "true"
	}

	// 委托价 -1 表示触发后以市价执行
	trigger := req.StopPrice.String()
	if req.Type == "STOP_MARKET" {
		body["slTriggerPx"] = trigger
		body["slOrdPx"] = "-1"
	} else {
		body["tpTriggerPx"] = trigger
		body["tpOrdPx"] = "-1"
	}

	data, err := a.client.request(ctx, http.MethodPost, "/api/v5/trade/order-algo", body)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		AlgoID string `json:"algoId"`
		SCode  string `json:"sCode"`
		SMsg   string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析策略委托响应失败: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("策略委托响应为空")
	}
	if resp[0].SCode != "0" {
		return nil, &APIError{Code: resp[0].SCode, Message: resp[0].SMsg}
	}

	logger.Info("✅ okx 策略委托成功: %s %s 触发价=%s", req.Symbol, req.Type, trigger)
	return &Order{
		OrderID:   resp[0].AlgoID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    "NEW",
		Quantity:  req.Quantity,
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder 取消订单
func (a *OKXAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := a.client.request(ctx, http.MethodPost, "/api/v5/trade/cancel-order", map[string]string{
		"instId": symbol,
		"ordId":  orderID,
	})
	if err != nil {
		return err
	}
	logger.Info("✅ okx 订单已取消: %s %s", symbol, orderID)
	return nil
}

// GetOrder 查询订单
func (a *OKXAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	path := "/api/v5/trade/order?instId=" + symbol + "&ordId=" + orderID
	data, err := a.client.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp []okxOrder
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析订单失败: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("订单 %s 不存在", orderID)
	}
	return resp[0].toOrder(), nil
}

// GetOpenOrders 查询未完结订单
func (a *OKXAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error) {
	path := "/api/v5/trade/orders-pending?instId=" + symbol
	data, err := a.client.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp []okxOrder
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析订单列表失败: %w", err)
	}

	orders := make([]*Order, len(resp))
	for i := range resp {
		orders[i] = resp[i].toOrder()
	}
	return orders, nil
}

// GetPositions 查询持仓
func (a *OKXAdapter) GetPositions(ctx context.Context, symbol string) ([]*Position, error) {
	path := "/api/v5/account/positions?instId=" + symbol
	data, err := a.client.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		MarkPx  string `json:"markPx"`
		Upl     string `json:"upl"`
		Lever   string `json:"lever"`
		UTime   string `json:"uTime"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析持仓失败: %w", err)
	}

	var positions []*Position
	for _, p := range resp {
		qty := parseDecimal(p.Pos)
		if qty.IsZero() {
			continue
		}
		if p.PosSide == "short" {
			qty = qty.Abs().Neg()
		}
		lever, _ := strconv.Atoi(p.Lever)
		uTime, _ := strconv.ParseInt(p.UTime, 10, 64)
		positions = append(positions, &Position{
			Symbol:        p.InstID,
			PositionSide:  posSideFromOKX(p.PosSide),
			Quantity:      qty,
			EntryPrice:    parseDecimal(p.AvgPx),
			MarkPrice:     parseDecimal(p.MarkPx),
			UnrealizedPnL: parseDecimal(p.Upl),
			Leverage:      lever,
			UpdatedAt:     time.UnixMilli(uTime),
		})
	}
	return positions, nil
}

// GetFills 查询 since 之后的成交记录
// OKX 按时间倒序返回，转为升序
func (a *OKXAdapter) GetFills(ctx context.Context, symbol string, since time.Time) ([]*Fill, error) {
	path := "/api/v5/trade/fills?instType=SWAP&instId=" + symbol
	if !since.IsZero() {
		path += "&begin=" + strconv.FormatInt(since.UnixMilli(), 10)
	}
	data, err := a.client.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		TradeID string `json:"tradeId"`
		OrdID   string `json:"ordId"`
		InstID  string `json:"instId"`
		Side    string `json:"side"`
		FillPx  string `json:"fillPx"`
		FillSz  string `json:"fillSz"`
		Fee     string `json:"fee"`
		FeeCcy  string `json:"feeCcy"`
		Ts      string `json:"ts"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析成交记录失败: %w", err)
	}

	fills := make([]*Fill, len(resp))
	for i, f := range resp {
		ts, _ := strconv.ParseInt(f.Ts, 10, 64)
		// OKX 手续费为负数表示支出
		fills[len(resp)-1-i] = &Fill{
			TradeID:   f.TradeID,
			OrderID:   f.OrdID,
			Symbol:    f.InstID,
			Side:      sideFromOKX(f.Side),
			Price:     parseDecimal(f.FillPx),
			Quantity:  parseDecimal(f.FillSz),
			Fee:       parseDecimal(f.Fee).Abs(),
			FeeAsset:  f.FeeCcy,
			Timestamp: time.UnixMilli(ts),
		}
	}
	return fills, nil
}

// SetLeverage 设置杠杆
func (a *OKXAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := a.client.request(ctx, http.MethodPost, "/api/v5/account/set-leverage", map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	})
	if err != nil {
		return err
	}
	logger.Info("✅ okx 杠杆已设置: %s %dx", symbol, leverage)
	return nil
}

// okxOrder 订单响应
type okxOrder struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	State     string `json:"state"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	PosSide   string `json:"posSide"`
	CTime     string `json:"cTime"`
	UTime     string `json:"uTime"`
}

func (o *okxOrder) toOrder() *Order {
	cTime, _ := strconv.ParseInt(o.CTime, 10, 64)
	uTime, _ := strconv.ParseInt(o.UTime, 10, 64)
	return &Order{
		OrderID:       o.OrdID,
		ClientOrderID: o.ClOrdID,
		Symbol:        o.InstID,
		Side:          sideFromOKX(o.Side),
		Type:          ordTypeFromOKX(o.OrdType),
		Status:        statusFromOKX(o.State),
		Price:         parseDecimal(o.Px),
		Quantity:      parseDecimal(o.Sz),
		ExecutedQty:   parseDecimal(o.AccFillSz),
		AvgPrice:      parseDecimal(o.AvgPx),
		PositionSide:  posSideFromOKX(o.PosSide),
		CreatedAt:     time.UnixMilli(cTime),
		UpdatedAt:     time.UnixMilli(uTime),
	}
}

func sideToOKX(s Side) string {
	if s == "SELL" {
		return "sell"
	}
	return "buy"
}

func sideFromOKX(s string) Side {
	if s == "sell" {
		return "SELL"
	}
	return "BUY"
}

func ordTypeToOKX(t OrderType) string {
	if t == "LIMIT" {
		return "limit"
	}
	return "market"
}

func ordTypeFromOKX(t string) OrderType {
	if t == "limit" {
		return "LIMIT"
	}
	return "MARKET"
}

func posSideToOKX(p PositionSide) string {
	if p == "SHORT" {
		return "short"
	}
	return "long"
}

func posSideFromOKX(p string) PositionSide {
	switch p {
	case "long":
		return "LONG"
	case "short":
		return "SHORT"
	}
	return "BOTH"
}

func statusFromOKX(s string) OrderStatus {
	switch s {
	case "live":
		return "NEW"
	case "partially_filled":
		return "PARTIALLY_FILLED"
	case "filled":
		return "FILLED"
	case "canceled":
		return "CANCELED"
	}
	return OrderStatus(s)
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Warn("⚠️ okx 数值解析失败: %q", s)
		return decimal.Zero
	}
	return d
}
