package exchange

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError 下单意图本身不合法，重试无意义
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数校验失败 [%s]: %s", e.Field, e.Reason)
}

// PrecisionError 数量或价格无法满足交易对精度约束
type PrecisionError struct {
	Field      string
	Value      string
	Constraint string
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("精度校验失败 [%s=%s]: %s", e.Field, e.Value, e.Constraint)
}

// AuthError 签名或密钥错误，人工介入前不应重试
type AuthError struct {
	Venue   string
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s 认证失败 (code=%s): %s", e.Venue, e.Code, e.Message)
}

// TransientError 网络或交易所侧临时故障，可安全重试
type TransientError struct {
	Venue      string
	RetryAfter time.Duration
	Cause      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s 临时故障: %v", e.Venue, e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// RejectedError 交易所明确拒绝订单（保证金不足、交易对下线等）
type RejectedError struct {
	Venue   string
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s 拒绝订单 (code=%s): %s", e.Venue, e.Code, e.Message)
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth 判断是否为认证类错误
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRejected 判断是否为交易所明确拒绝
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
