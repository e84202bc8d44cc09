package bybit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/exchange/sign"
)

const (
	testAPIKey = "test-key"
	testSecret = "test-secret"
)

func newTestAdapter(handler http.HandlerFunc) (*BybitAdapter, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewBybitClient(testAPIKey, testSecret, false)
	client.SetBaseURL(server.URL)
	return &BybitAdapter{client: client}, server
}

// 签名覆盖 时间戳 + API Key + recvWindow + 载荷
func verifySignature(t *testing.T, r *http.Request, payload string) {
	t.Helper()
	timestamp := r.Header.Get("X-BAPI-TIMESTAMP")
	if timestamp == "" {
		t.Fatal("缺少时间戳请求头")
	}
	if r.Header.Get("X-BAPI-API-KEY") != testAPIKey {
		t.Error("缺少 API Key 请求头")
	}
	want := sign.HexHMACSHA256(testSecret, timestamp+testAPIKey+recvWindow+payload)
	if got := r.Header.Get("X-BAPI-SIGN"); got != want {
		t.Errorf("签名不匹配\n期望 %s\n实际 %s", want, got)
	}
}

func TestGetSignsQueryString(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r, r.URL.RawQuery)
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	})
	defer server.Close()

	if _, err := adapter.GetPositions(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("查询持仓失败: %v", err)
	}
}

func TestPostSignsJSONBody(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifySignature(t, r, string(body))
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{}}`))
	})
	defer server.Close()

	if err := adapter.SetLeverage(context.Background(), "BTCUSDT", 10); err != nil {
		t.Fatalf("设置杠杆失败: %v", err)
	}
}

func TestClosePositionUsesTradingStop(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/position/trading-stop" {
			t.Errorf("全量平仓保护应走 trading-stop，实际 %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var params map[string]interface{}
		if err := json.Unmarshal(body, &params); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		if params["stopLoss"] != "49000" {
			t.Errorf("止损价错误: %v", params["stopLoss"])
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{}}`))
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
		t.Fatalf("设置仓位保护失败: %v", err)
	}
}

func TestHedgeModeSendsPositionIdx(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/order/create" {
			body, _ := io.ReadAll(r.Body)
			var params map[string]interface{}
			if err := json.Unmarshal(body, &params); err != nil {
				t.Fatalf("解析请求体失败: %v", err)
			}
			if params["positionIdx"] != float64(2) {
				t.Errorf("空头仓位应发送 positionIdx=2: %v", params["positionIdx"])
			}
			if _, exists := params["reduceOnly"]; exists {
				t.Error("双向持仓模式不允许发送 reduceOnly")
			}
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"abc"}}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"orderId":"abc","symbol":"BTCUSDT","side":"Sell","orderType":"Market","orderStatus":"Filled","qty":"0.5","cumExecQty":"0.5","avgPrice":"50000","positionIdx":2,"createdTime":"1700000000000","updatedTime":"1700000000000"}]}}`))
	})
	defer server.Close()

	order, err := adapter.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:       "BTCUSDT",
		Side:         "SELL",
		Type:         "MARKET",
		Quantity:     decimal.RequireFromString("0.5"),
		PositionSide: "SHORT",
		ReduceOnly:   true,
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if order.Status != "FILLED" || order.PositionSide != "SHORT" {
		t.Errorf("订单映射错误: %+v", order)
	}
}

func TestEnvelopeErrorClassification(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10004,"retMsg":"error sign","result":{}}`))
	})
	defer server.Close()

	err := adapter.CancelOrder(context.Background(), "BTCUSDT", "1")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("期望 APIError，实际 %T", err)
	}
	if !apiErr.IsAuth() {
		t.Error("10004 应判定为认证错误")
	}
	if apiErr.IsTransient() {
		t.Error("签名错误不应判定为临时故障")
	}
}

func TestSetLeverageIgnoresNotModified(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":110043,"retMsg":"leverage not modified","result":{}}`))
	})
	defer server.Close()

	if err := adapter.SetLeverage(context.Background(), "BTCUSDT", 10); err != nil {
		t.Errorf("杠杆未变化不应视为失败: %v", err)
	}
}

func TestSyncTimeAdjustsTimestamp(t *testing.T) {
	skew := time.Hour
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/time" {
			t.Errorf("时间同步应请求公共时间接口，实际 %s", r.URL.Path)
		}
		nano := time.Now().Add(skew).UnixNano()
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"timeNano":"` + strconv.FormatInt(nano, 10) + `"}}`))
	})
	defer server.Close()

	c := adapter.Client()
	c.SyncTime(context.Background())

	ms, err := strconv.ParseInt(c.timestamp(), 10, 64)
	if err != nil {
		t.Fatalf("解析时间戳失败: %v", err)
	}
	drift := time.UnixMilli(ms).Sub(time.Now().Add(skew))
	if drift < -time.Minute || drift > time.Minute {
		t.Errorf("签名时间戳未按服务器时间校正，偏差 %v", drift)
	}
}

func TestSyncTimeFallsBackToLocal(t *testing.T) {
	adapter, server := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer server.Close()

	c := adapter.Client()
	c.SyncTime(context.Background())

	ms, err := strconv.ParseInt(c.timestamp(), 10, 64)
	if err != nil {
		t.Fatalf("解析时间戳失败: %v", err)
	}
	drift := time.UnixMilli(ms).Sub(time.Now())
	if drift < -time.Minute || drift > time.Minute {
		t.Errorf("同步失败时应退回本地时间，偏差 %v", drift)
	}
}
