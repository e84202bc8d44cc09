package replay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ordermesh/coordination"
	"ordermesh/logger"
)

// Trigger 声称来自外部的入站触发
type Trigger struct {
	Identity  string // 触发方身份标识
	Timestamp int64  // 触发方声明的 Unix 秒级时间戳
	Nonce     string // 触发方生成的一次性随机串
	Signature string // 可选的 HMAC-SHA256 十六进制签名
	Payload   []byte // 原始载荷（参与签名）
}

// RejectError 触发被判定为重放/伪造
// 这不是普通业务错误：调用方应丢弃请求并按潜在攻击记录。
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return "replay rejected: " + e.Reason
}

// IsReject 判断错误是否为重放拒绝
func IsReject(err error) bool {
	var r *RejectError
	return errors.As(err, &r)
}

// AlertSink 安全事件通知接口
// 注入实现以便核心逻辑在测试中保持确定性。
type AlertSink interface {
	SecurityEvent(title, message string)
}

// Config 防重放配置
type Config struct {
	MaxDrift         time.Duration     // 时间戳允许漂移
	NonceTTL         time.Duration     // nonce 有效窗口
	RequireSignature bool              // 是否强制要求签名
	Secrets          map[string]string // 身份 -> HMAC 密钥
}

// Guard 重放攻击防护
// 三道检查全部通过才放行：时间戳漂移、nonce 首写独占、签名验证。
// 唯一的放行式降级：协调存储不可达时放行并记录安全事件，绝不静默。
type Guard struct {
	store coordination.Store
	cfg   Config
	sink  AlertSink
}

// NewGuard 创建防重放守卫
func NewGuard(store coordination.Store, cfg Config, sink AlertSink) *Guard {
	if cfg.MaxDrift <= 0 {
		cfg.MaxDrift = 5 * time.Minute
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 10 * time.Minute
	}
	return &Guard{store: store, cfg: cfg, sink: sink}
}

// canonicalMessage 构造签名参与的规范串
// 身份、时间戳、nonce、载荷之间用竖线分隔，顺序固定。
func canonicalMessage(identity string, timestamp int64, nonce string, payload []byte) []byte {
	msg := identity + "|" + strconv.FormatInt(timestamp, 10) + "|" + nonce + "|"
	return append([]byte(msg), payload...)
}

// Sign 按守卫的规范串对触发签名（供测试和触发方 SDK 使用）
func Sign(secret, identity string, timestamp int64, nonce string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(canonicalMessage(identity, timestamp, nonce, payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify 校验入站触发
// 返回 nil 表示放行；返回 RejectError 表示应丢弃并记录。
func (g *Guard) Verify(ctx context.Context, tr *Trigger) error {
	if tr.Identity == "" {
		return &RejectError{Reason: "missing identity"}
	}
	if tr.Nonce == "" {
		return &RejectError{Reason: "missing nonce"}
	}

	// 检查一：时间戳漂移（纯本地计算，永不降级）
	drift := time.Since(time.Unix(tr.Timestamp, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > g.cfg.MaxDrift {
		logger.Warn("🛡️ [防重放] %s 时间戳漂移 %v 超出上限 %v", tr.Identity, drift.Round(time.Second), g.cfg.MaxDrift)
		return &RejectError{Reason: fmt.Sprintf("timestamp drift %v exceeds %v", drift.Round(time.Second), g.cfg.MaxDrift)}
	}

	// 检查二：签名（纯本地计算，永不降级；必须在 nonce 写入之前，
	// 否则伪造请求会把合法请求的 nonce 占掉）
	if tr.Signature != "" || g.cfg.RequireSignature {
		if err := g.verifySignature(tr); err != nil {
			return err
		}
	}

	// 检查三：nonce 首写独占
	key := "replay:nonce:" + tr.Identity + ":" + tr.Nonce
	ok, err := g.store.SetNX(ctx, key, "1", g.cfg.NonceTTL)
	if err != nil {
		// 存储不可达：放行但作为安全事件上报，绝不静默
		g.failOpen(tr, "nonce store unreachable", err)
		return nil
	}
	if !ok {
		logger.Warn("🛡️ [防重放] %s 的 nonce %s 在有效窗口内重复出现，疑似重放", tr.Identity, tr.Nonce)
		return &RejectError{Reason: "nonce already seen within validity window"}
	}

	// 签名本身也检查重用（同一签名配不同 nonce 仍然是攻击特征）
	if tr.Signature != "" {
		sigHash := sha256.Sum256([]byte(tr.Signature))
		sigKey := "replay:sig:" + hex.EncodeToString(sigHash[:])
		ok, err := g.store.SetNX(ctx, sigKey, "1", g.cfg.NonceTTL)
		if err != nil {
			g.failOpen(tr, "signature store unreachable", err)
			return nil
		}
		if !ok {
			logger.Warn("🛡️ [防重放] %s 的签名被重复使用，疑似重放", tr.Identity)
			return &RejectError{Reason: "signature reuse detected"}
		}
	}

	return nil
}

// verifySignature 常数时间比较签名
func (g *Guard) verifySignature(tr *Trigger) error {
	if tr.Signature == "" {
		return &RejectError{Reason: "signature required but missing"}
	}

	secret, ok := g.cfg.Secrets[tr.Identity]
	if !ok || secret == "" {
		return &RejectError{Reason: "no signing secret configured for identity"}
	}

	expected := Sign(secret, tr.Identity, tr.Timestamp, tr.Nonce, tr.Payload)
	if !hmac.Equal([]byte(expected), []byte(tr.Signature)) {
		logger.Warn("🛡️ [防重放] %s 签名校验失败，疑似伪造", tr.Identity)
		return &RejectError{Reason: "signature mismatch"}
	}
	return nil
}

// failOpen 存储不可达时的放行降级
func (g *Guard) failOpen(tr *Trigger, reason string, err error) {
	msg := fmt.Sprintf("identity=%s nonce=%s: %s (%v)", tr.Identity, tr.Nonce, reason, err)
	logger.Error("🚨 [安全事件] 防重放检查降级放行: %s", msg)
	if g.sink != nil {
		g.sink.SecurityEvent("replay guard fail-open", msg)
	}
}
