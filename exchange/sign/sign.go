// Package sign 提供各交易所共用的请求签名原语
// 各交易所的差异只在消息拼接方式，HMAC 计算与编码在此统一
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// HexHMACSHA256 计算 HMAC-SHA256 并返回小写十六进制
func HexHMACSHA256(secret, message string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Base64HMACSHA256 计算 HMAC-SHA256 并返回标准 Base64
func Base64HMACSHA256(secret, message string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// SortedQuery 按键名升序拼接 URL 编码的查询串
// 签名与实际发送的查询串必须逐字节一致，调用方应复用返回值
func SortedQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}
