package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ordermesh/exchange/sign"
	"ordermesh/logger"
)

const (
	// 主网 API 地址
	MainnetRestURL = "https://fapi.binance.com"
	// 测试网 API 地址
	TestnetRestURL = "https://testnet.binancefuture.com"

	recvWindow = "5000"
)

// APIError Binance API 错误响应
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance API 错误 %d: %s", e.Code, e.Message)
}

// IsAuth 判断是否为密钥或签名错误
func (e *APIError) IsAuth() bool {
	switch e.Code {
	case -1022, -2014, -2015:
		return true
	}
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// IsTransient 判断是否为可重试的临时故障
func (e *APIError) IsTransient() bool {
	if e.HTTPStatus >= 500 || e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus == 418 {
		return true
	}
	// -1001 内部错误 / -1007 超时
	return e.Code == -1001 || e.Code == -1007
}

// BinanceClient Binance USDT 永续合约 REST 客户端
type BinanceClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	timeOffset time.Duration // 服务器时间 - 本地时间
	timeSynced bool
}

// NewBinanceClient 创建 Binance 客户端
func NewBinanceClient(apiKey, secretKey string, useTestnet bool) *BinanceClient {
	baseURL := MainnetRestURL
	if useTestnet {
		baseURL = TestnetRestURL
	}

	return &BinanceClient{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBaseURL 覆盖 API 地址，仅供测试使用
func (c *BinanceClient) SetBaseURL(url string) {
	c.baseURL = url
}

// SyncTime 同步服务器时间，失败时退回本地时间并告警
func (c *BinanceClient) SyncTime(ctx context.Context) {
	body, err := c.publicRequest(ctx, http.MethodGet, "/fapi/v1/time", nil)
	if err != nil {
		logger.Warn("⚠️ binance 服务器时间同步失败，使用本地时间: %v", err)
		return
	}

	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		logger.Warn("⚠️ binance 服务器时间解析失败: %v", err)
		return
	}

	offset := time.UnixMilli(resp.ServerTime).Sub(time.Now())
	c.mu.Lock()
	c.timeOffset = offset
	c.timeSynced = true
	c.mu.Unlock()
	logger.Debug("binance 时间偏移: %v", offset)
}

// timestamp 返回校正后的毫秒时间戳
func (c *BinanceClient) timestamp() string {
	c.mu.RLock()
	offset := c.timeOffset
	c.mu.RUnlock()
	return strconv.FormatInt(time.Now().Add(offset).UnixMilli(), 10)
}

// publicRequest 发送无需签名的请求
func (c *BinanceClient) publicRequest(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	url := c.baseURL + path
	if query := sign.SortedQuery(params); query != "" {
		url += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	return c.do(req)
}

// signedRequest 发送签名请求
// 签名覆盖实际发送的完整查询串，时间戳与 recvWindow 一并纳入
func (c *BinanceClient) signedRequest(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = make(map[string]string)
	}
	params["timestamp"] = c.timestamp()
	params["recvWindow"] = recvWindow

	query := sign.SortedQuery(params)
	signature := sign.HexHMACSHA256(c.secretKey, query)
	url := c.baseURL + path + "?" + query + "&signature=" + signature

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req)
}

func (c *BinanceClient) do(req *http.Request) ([]byte, error) {
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
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	return body, nil
}

// NetworkError 网络层故障，始终可重试
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("binance 网络错误: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}
