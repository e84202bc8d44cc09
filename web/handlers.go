package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"ordermesh/breaker"
	"ordermesh/exchange"
	"ordermesh/lock"
	"ordermesh/logger"
	"ordermesh/metrics"
	"ordermesh/order"
	"ordermesh/replay"
)

// triggerRequest 外部触发请求
// payload 原文参与签名校验，解析前不做任何改写
type triggerRequest struct {
	Identity  string          `json:"identity" binding:"required"`
	Timestamp int64           `json:"timestamp" binding:"required"`
	Nonce     string          `json:"nonce" binding:"required"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
}

// orderPayload 下单意图载荷，数值字段用字符串承载避免精度损失
type orderPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	StopLoss      string `json:"stop_loss"`
	TakeProfit    string `json:"take_profit"`
	PositionSide  string `json:"position_side"`
	ReduceOnly    bool   `json:"reduce_only"`
	Leverage      int    `json:"leverage"`
	ClientOrderID string `json:"client_order_id"`
}

// handleHealth 健康检查
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleTrigger 接收下单触发
// 防重放校验在任何业务处理之前完成
func (s *Server) handleTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	trigger := &replay.Trigger{
		Identity:  req.Identity,
		Timestamp: req.Timestamp,
		Nonce:     req.Nonce,
		Signature: req.Signature,
		Payload:   []byte(req.Payload),
	}
	if err := s.guard.Verify(c.Request.Context(), trigger); err != nil {
		if replay.IsReject(err) {
			logger.Warn("🛡️ 触发请求被拒绝: identity=%s %v", req.Identity, err)
			metrics.GetPrometheusMetrics().RecordReplayRejected(req.Identity)
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "安全校验失败"})
		return
	}

	var payload orderPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "载荷格式错误: " + err.Error()})
		return
	}

	orderReq, err := payload.toOrderRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Execute(c.Request.Context(), orderReq)
	if err != nil {
		s.writeExecuteError(c, err)
		return
	}

	resp := gin.H{
		"order_id": result.Entry.OrderID,
		"status":   result.Entry.Status,
		"degraded": result.Degraded,
	}
	if result.Degraded {
		resp["degraded_reason"] = result.DegradedReason
	}
	if result.StopLossOrder != nil {
		resp["stop_loss_order_id"] = result.StopLossOrder.OrderID
	}
	if result.TakeProfitOrder != nil {
		resp["take_profit_order_id"] = result.TakeProfitOrder.OrderID
	}
	c.JSON(http.StatusOK, resp)
}

// writeExecuteError 将执行错误映射到 HTTP 状态码
func (s *Server) writeExecuteError(c *gin.Context, err error) {
	var (
		valErr  *exchange.ValidationError
		preErr  *exchange.PrecisionError
		openErr *breaker.CircuitOpenError
	)
	switch {
	case errors.As(err, &valErr), errors.As(err, &preErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.As(err, &openErr):
		c.Header("Retry-After", openErr.RetryAfter.String())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, lock.ErrContention):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrOutcomeUnknown):
		// 结果不明不等于失败，用 202 提示等待对账
		c.JSON(http.StatusAccepted, gin.H{"error": err.Error(), "status": "UNKNOWN"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (p *orderPayload) toOrderRequest() (*exchange.OrderRequest, error) {
	req := &exchange.OrderRequest{
		Symbol:        p.Symbol,
		Side:          exchange.Side(p.Side),
		Type:          exchange.OrderType(p.Type),
		TimeInForce:   exchange.TimeInForce(p.TimeInForce),
		PositionSide:  exchange.PositionSide(p.PositionSide),
		ReduceOnly:    p.ReduceOnly,
		Leverage:      p.Leverage,
		ClientOrderID: p.ClientOrderID,
	}

	var err error
	if req.Quantity, err = parseField("quantity", p.Quantity, true); err != nil {
		return nil, err
	}
	if req.Price, err = parseField("price", p.Price, false); err != nil {
		return nil, err
	}
	if req.StopLoss, err = parseField("stop_loss", p.StopLoss, false); err != nil {
		return nil, err
	}
	if req.TakeProfit, err = parseField("take_profit", p.TakeProfit, false); err != nil {
		return nil, err
	}
	return req, nil
}

func parseField(name, value string, required bool) (decimal.Decimal, error) {
	if value == "" {
		if required {
			return decimal.Zero, &exchange.ValidationError{Field: name, Reason: "不能为空"}
		}
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, &exchange.ValidationError{Field: name, Reason: "不是合法的十进制数"}
	}
	return d, nil
}
