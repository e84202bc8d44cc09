package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ordermesh/exchange/sign"
	"ordermesh/logger"
)

const (
	// 主网 API 地址
	MainnetRestURL = "https://api.bybit.com"
	// 测试网 API 地址
	TestnetRestURL = "https://api-testnet.bybit.com"

	recvWindow = "5000"
)

// APIError Bybit API 错误响应
type APIError struct {
	Code       int    `json:"retCode"`
	Message    string `json:"retMsg"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit API 错误 %d: %s", e.Code, e.Message)
}

// IsAuth 判断是否为密钥或签名错误
func (e *APIError) IsAuth() bool {
	switch e.Code {
	// 10003 无效 API Key / 10004 签名错误 / 10005 权限不足
	case 10003, 10004, 10005:
		return true
	}
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// IsTransient 判断是否为可重试的临时故障
func (e *APIError) IsTransient() bool {
	if e.HTTPStatus >= 500 || e.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	// 10002 时间戳漂移 / 10006 限频 / 10016 服务内部错误
	return e.Code == 10002 || e.Code == 10006 || e.Code == 10016
}

// NetworkError 网络层故障，始终可重试
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("bybit 网络错误: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// BybitClient Bybit v5 REST API 客户端
type BybitClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	timeOffset time.Duration // 服务器时间 - 本地时间
}

// NewBybitClient 创建 Bybit 客户端
func NewBybitClient(apiKey, secretKey string, useTestnet bool) *BybitClient {
	baseURL := MainnetRestURL
	if useTestnet {
		baseURL = TestnetRestURL
	}

	return &BybitClient{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBaseURL 覆盖 API 地址，仅供测试使用
func (c *BybitClient) SetBaseURL(url string) {
	c.baseURL = url
}

// SyncTime 同步服务器时间，失败时退回本地时间并告警
func (c *BybitClient) SyncTime(ctx context.Context) {
	result, err := c.get(ctx, "/v5/market/time", nil)
	if err != nil {
		logger.Warn("⚠️ bybit 服务器时间同步失败，使用本地时间: %v", err)
		return
	}

	var resp struct {
		TimeNano string `json:"timeNano"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		logger.Warn("⚠️ bybit 服务器时间解析失败: %v", err)
		return
	}
	nano, err := strconv.ParseInt(resp.TimeNano, 10, 64)
	if err != nil {
		logger.Warn("⚠️ bybit 服务器时间解析失败: %v", err)
		return
	}

	offset := time.Unix(0, nano).Sub(time.Now())
	c.mu.Lock()
	c.timeOffset = offset
	c.mu.Unlock()
	logger.Debug("bybit 时间偏移: %v", offset)
}

// timestamp 返回校正后的毫秒时间戳
func (c *BybitClient) timestamp() string {
	c.mu.RLock()
	offset := c.timeOffset
	c.mu.RUnlock()
	return strconv.FormatInt(time.Now().Add(offset).UnixMilli(), 10)
}

// get 发送签名 GET 请求，载荷为查询串
func (c *BybitClient) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := sign.SortedQuery(params)
	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	c.signRequest(req, query)
	return c.do(req)
}

// post 发送签名 POST 请求，载荷为 JSON 体
func (c *BybitClient) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.signRequest(req, string(bodyBytes))
	return c.do(req)
}

// signRequest 签名覆盖 时间戳 + API Key + recvWindow + 载荷
func (c *BybitClient) signRequest(req *http.Request, payload string) {
	timestamp := c.timestamp()
	signature := sign.HexHMACSHA256(c.secretKey, timestamp+c.apiKey+recvWindow+payload)

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", signature)
}

func (c *BybitClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return nil, apiErr
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, &APIError{Code: envelope.RetCode, Message: envelope.RetMsg, HTTPStatus: resp.StatusCode}
	}

	return envelope.Result, nil
}
