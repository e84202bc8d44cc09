package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/coordination"
	"ordermesh/exchange"
	"ordermesh/order"
	"ordermesh/replay"
)

const (
	testIdentity = "strategy-1"
	testSecret   = "trigger-secret"
)

// fakeEngine 记录收到的请求并返回固定结果
type fakeEngine struct {
	received *exchange.OrderRequest
	result   *order.Result
	err      error
}

func (f *fakeEngine) Execute(ctx context.Context, req *exchange.OrderRequest) (*order.Result, error) {
	f.received = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &order.Result{
		Entry: &exchange.Order{OrderID: "1", Status: exchange.OrderStatusFilled},
	}, nil
}

type nopSink struct{}

func (nopSink) SecurityEvent(title, message string) {}

func newTestServer(engine Engine) *Server {
	guard := replay.NewGuard(coordination.NewMemoryStore(), replay.Config{
		MaxDrift:         5 * time.Minute,
		NonceTTL:         10 * time.Minute,
		RequireSignature: true,
		Secrets:          map[string]string{testIdentity: testSecret},
	}, nopSink{})
	return NewServer(engine, guard, ":0")
}

func signedTrigger(t *testing.T, nonce string, payload map[string]interface{}) []byte {
	t.Helper()
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("序列化载荷失败: %v", err)
	}
	ts := time.Now().Unix()
	body := map[string]interface{}{
		"identity":  testIdentity,
		"timestamp": ts,
		"nonce":     nonce,
		"signature": replay.Sign(testSecret, testIdentity, ts, nonce, payloadBytes),
		"payload":   json.RawMessage(payloadBytes),
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("序列化请求失败: %v", err)
	}
	return bodyBytes
}

func postTrigger(server *Server, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func orderPayloadJSON() map[string]interface{} {
	return map[string]interface{}{
		"symbol":   "BTCUSDT",
		"side":     "BUY",
		"type":     "MARKET",
		"quantity": "0.002",
	}
}

func TestTriggerAccepted(t *testing.T) {
	engine := &fakeEngine{}
	server := newTestServer(engine)

	w := postTrigger(server, signedTrigger(t, "nonce-1", orderPayloadJSON()))
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d: %s", w.Code, w.Body.String())
	}

	if engine.received == nil {
		t.Fatal("执行器未收到请求")
	}
	if !engine.received.Quantity.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("数量解析错误: %s", engine.received.Quantity.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp["order_id"] != "1" || resp["degraded"] != false {
		t.Errorf("响应内容错误: %v", resp)
	}
}

func TestTriggerReplayedNonceRejected(t *testing.T) {
	engine := &fakeEngine{}
	server := newTestServer(engine)

	first := postTrigger(server, signedTrigger(t, "nonce-dup", orderPayloadJSON()))
	if first.Code != http.StatusOK {
		t.Fatalf("首次请求应放行: %d", first.Code)
	}

	engine.received = nil
	second := postTrigger(server, signedTrigger(t, "nonce-dup", orderPayloadJSON()))
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("重放 nonce 应返回 401，实际 %d", second.Code)
	}
	if engine.received != nil {
		t.Error("被拒绝的请求不应触达执行器")
	}
}

func TestTriggerForgedSignatureRejected(t *testing.T) {
	engine := &fakeEngine{}
	server := newTestServer(engine)

	body := signedTrigger(t, "nonce-forged", orderPayloadJSON())
	var req map[string]interface{}
	json.Unmarshal(body, &req)
	req["signature"] = "deadbeef"
	tampered, _ := json.Marshal(req)

	w := postTrigger(server, tampered)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("伪造签名应返回 401，实际 %d", w.Code)
	}
}

func TestTriggerMissingFieldsRejected(t *testing.T) {
	server := newTestServer(&fakeEngine{})

	w := postTrigger(server, []byte(`{"identity":"strategy-1"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺少必填字段应返回 400，实际 %d", w.Code)
	}
}

func TestTriggerInvalidQuantityRejected(t *testing.T) {
	server := newTestServer(&fakeEngine{})

	payload := orderPayloadJSON()
	payload["quantity"] = "not-a-number"
	w := postTrigger(server, signedTrigger(t, "nonce-badqty", payload))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("非法数量应返回 400，实际 %d", w.Code)
	}
}

func TestTriggerExecutionErrorsMapped(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"限流", order.ErrRateLimited, http.StatusTooManyRequests},
		{"结果不明", fmt.Errorf("包装: %w", order.ErrOutcomeUnknown), http.StatusAccepted},
		{"参数校验", &exchange.ValidationError{Field: "side", Reason: "非法"}, http.StatusBadRequest},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(&fakeEngine{err: tc.err})
			w := postTrigger(server, signedTrigger(t, fmt.Sprintf("nonce-err-%d", i), orderPayloadJSON()))
			if w.Code != tc.code {
				t.Errorf("期望 %d，实际 %d", tc.code, w.Code)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeEngine{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("健康检查失败: %d", w.Code)
	}
}

func TestDegradedResultExposed(t *testing.T) {
	engine := &fakeEngine{
		result: &order.Result{
			Entry:          &exchange.Order{OrderID: "9", Status: exchange.OrderStatusFilled},
			Degraded:       true,
			DegradedReason: "止损腿挂单失败",
		},
	}
	server := newTestServer(engine)

	w := postTrigger(server, signedTrigger(t, "nonce-degraded", orderPayloadJSON()))
	if w.Code != http.StatusOK {
		t.Fatalf("降级成功仍应返回 200: %d", w.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["degraded"] != true || resp["degraded_reason"] == "" {
		t.Errorf("降级信息缺失: %v", resp)
	}
}
