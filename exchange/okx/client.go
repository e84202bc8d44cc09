package okx

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
	// 主网 API 地址，模拟盘共用域名，靠请求头区分
	MainnetRestURL = "https://www.okx.com"
)

// APIError OKX API 错误响应
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"msg"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx API 错误 %s: %s", e.Code, e.Message)
}

// IsAuth 判断是否为密钥或签名错误
func (e *APIError) IsAuth() bool {
	switch e.Code {
	// 50111 无效 API Key / 50113 签名无效 / 50105 Passphrase 错误
	case "50111", "50113", "50105":
		return true
	}
	return e.HTTPStatus == http.StatusUnauthorized
}

// IsTransient 判断是否为可重试的临时故障
func (e *APIError) IsTransient() bool {
	if e.HTTPStatus >= 500 || e.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	// 50001 服务暂不可用 / 50011 限频
	return e.Code == "50001" || e.Code == "50011"
}

// NetworkError 网络层故障，始终可重试
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("okx 网络错误: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// OKXClient OKX REST API 客户端
type OKXClient struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	useTestnet bool
	httpClient *http.Client

	mu         sync.RWMutex
	timeOffset time.Duration // 服务器时间 - 本地时间
}

// NewOKXClient 创建 OKX 客户端
func NewOKXClient(apiKey, secretKey, passphrase string, useTestnet bool) *OKXClient {
	return &OKXClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		baseURL:    MainnetRestURL,
		useTestnet: useTestnet,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBaseURL 覆盖 API 地址，仅供测试使用
func (c *OKXClient) SetBaseURL(url string) {
	c.baseURL = url
}

// SyncTime 同步服务器时间，失败时退回本地时间并告警
func (c *OKXClient) SyncTime(ctx context.Context) {
	data, err := c.request(ctx, http.MethodGet, "/api/v5/public/time", nil)
	if err != nil {
		logger.Warn("⚠️ okx 服务器时间同步失败，使用本地时间: %v", err)
		return
	}

	var resp []struct {
		TS string `json:"ts"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || len(resp) == 0 {
		logger.Warn("⚠️ okx 服务器时间解析失败: %v", err)
		return
	}
	ms, err := strconv.ParseInt(resp[0].TS, 10, 64)
	if err != nil {
		logger.Warn("⚠️ okx 服务器时间解析失败: %v", err)
		return
	}

	offset := time.UnixMilli(ms).Sub(time.Now())
	c.mu.Lock()
	c.timeOffset = offset
	c.mu.Unlock()
	logger.Debug("okx 时间偏移: %v", offset)
}

// timestamp 返回校正后的 ISO 毫秒时间戳
func (c *OKXClient) timestamp() string {
	c.mu.RLock()
	offset := c.timeOffset
	c.mu.RUnlock()
	return time.Now().Add(offset).UTC().Format("2006-01-02T15:04:05.000Z")
}

// request 发送 HTTP 请求
// 签名覆盖 ISO 时间戳 + 方法 + 含查询串的路径 + 请求体
func (c *OKXClient) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	timestamp := c.timestamp()
	signature := sign.Base64HMACSHA256(c.secretKey, timestamp+method+path+string(bodyBytes))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	if c.useTestnet {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}

	var apiResp struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if apiResp.Code != "0" {
		return nil, &APIError{Code: apiResp.Code, Message: apiResp.Msg, HTTPStatus: resp.StatusCode}
	}

	return apiResp.Data, nil
}
