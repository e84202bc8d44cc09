package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/exchange/sign"
)

const (
	testAPIKey    = "test-api-key"
	testSecretKey = "test-secret-key"
)

func newTestAdapter(handler http.HandlerFunc) (*BinanceAdapter, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewBinanceClient(testAPIKey, testSecretKey, false)
	client.SetBaseURL(server.URL)
	return &BinanceAdapter{client: client}, server
}

// 验证签名覆盖除 signature 外的完整查询串
func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()
	values := r.URL.Query()
	gotSig := values.Get("signature")
	if gotSig == "" {
		t.Fatal("请求缺少签名")
	}
	values.Del("signature")

	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	wantSig := sign.HexHMACSHA256(testSecretKey, sign.SortedQuery(params))
	if gotSig != wantSig {
		t.Errorf("签名不匹配\n期望 %s\n实际 %s", wantSig, gotSig)
	}
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	var captured *url.Values
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r)
		if r.Header.Get("X-MBX-APIKEY") != testAPIKey {
			t.Errorf("缺少 API Key 请求头")
		}
		v := r.URL.Query()
		captured = &v
		w.Write([]byte(`{"orderId":123,"symbol":"BTCUSDT","side":"BUY","type":"MARKET","status":"FILLED","origQty":"0.002","executedQty":"0.002","avgPrice":"50000.0","updateTime":1700000000000}`))
	})
	defer server.Close()

	order, err := adapter.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     "BUY",
		Type:     "MARKET",
		Quantity: decimal.RequireFromString("0.002"),
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if order.OrderID != "123" || order.Status != "FILLED" {
		t.Errorf("订单解析错误: %+v", order)
	}
	if captured.Get("quantity") != "0.002" {
		t.Errorf("数量参数错误: %s", captured.Get("quantity"))
	}
	if captured.Get("timestamp") == "" || captured.Get("recvWindow") == "" {
		t.Error("签名请求必须携带时间戳与 recvWindow")
	}
}

// 双向持仓模式下 positionSide 与 reduceOnly 互斥
func TestPlaceOrderHedgeModeOmitsReduceOnly(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query()
		if v.Get("positionSide") != "LONG" {
			t.Errorf("双向持仓模式应发送 positionSide，实际 %q", v.Get("positionSide"))
		}
		if v.Get("reduceOnly") != "" {
			t.Error("双向持仓模式不允许发送 reduceOnly")
		}
		w.Write([]byte(`{"orderId":1,"symbol":"BTCUSDT","status":"NEW","updateTime":1700000000000}`))
	})
	defer server.Close()

	_, err := adapter.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:       "BTCUSDT",
		Side:         "SELL",
		Type:         "MARKET",
		Quantity:     decimal.RequireFromString("0.001"),
		PositionSide: "LONG",
		ReduceOnly:   true,
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
}

func TestPlaceOrderNetModeSendsReduceOnly(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query()
		if v.Get("reduceOnly") != "true" {
			t.Error("净头寸模式的平仓单应发送 reduceOnly")
		}
		if v.Get("positionSide") != "" {
			t.Error("净头寸模式不应发送 positionSide")
		}
		w.Write([]byte(`{"orderId":2,"symbol":"BTCUSDT","status":"NEW","updateTime":1700000000000}`))
	})
	defer server.Close()

	_, err := adapter.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       "SELL",
		Type:       "MARKET",
		Quantity:   decimal.RequireFromString("0.001"),
		ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
}

func TestClosePositionOmitsQuantity(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query()
		if v.Get("closePosition") != "true" {
			t.Error("全量平仓单应发送 closePosition")
		}
		if v.Get("quantity") != "" {
			t.Error("全量平仓单不应携带数量")
		}
		if v.Get("stopPrice") != "49000" {
			t.Errorf("触发价错误: %s", v.Get("stopPrice"))
		}
		w.Write([]byte(`{"orderId":3,"symbol":"BTCUSDT","status":"NEW","updateTime":1700000000000}`))
	})
	defer server.Close()

	_, err := adapter.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          "SELL",
		Type:          "STOP_MARKET",
		StopPrice:     decimal.RequireFromString("49000"),
		ClosePosition: true,
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	authErr := &APIError{Code: -2015, HTTPStatus: 400}
	if !authErr.IsAuth() {
		t.Error("-2015 应判定为认证错误")
	}
	if authErr.IsTransient() {
		t.Error("认证错误不应判定为临时故障")
	}

	rateErr := &APIError{Code: -1003, HTTPStatus: 429}
	if !rateErr.IsTransient() {
		t.Error("HTTP 429 应判定为临时故障")
	}

	marginErr := &APIError{Code: -2019, HTTPStatus: 400}
	if marginErr.IsAuth() || marginErr.IsTransient() {
		t.Error("保证金不足应判定为明确拒绝")
	}
}

func TestGetFillsParsesChronologically(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r)
		w.Write([]byte(`[
			{"id":1,"orderId":10,"symbol":"BTCUSDT","side":"BUY","price":"100","qty":"1","commission":"0.01","commissionAsset":"USDT","time":1700000000000},
			{"id":2,"orderId":11,"symbol":"BTCUSDT","side":"SELL","price":"110","qty":"0.6","commission":"0.01","commissionAsset":"USDT","time":1700000001000}
		]`))
	})
	defer server.Close()

	fills, err := adapter.GetFills(context.Background(), "BTCUSDT", time.Time{})
	if err != nil {
		t.Fatalf("查询成交失败: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("期望 2 条成交，实际 %d", len(fills))
	}
	if !fills[0].Timestamp.Before(fills[1].Timestamp) {
		t.Error("成交应按时间升序")
	}
	if !fills[1].Quantity.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("数量解析错误: %s", fills[1].Quantity.String())
	}
}
