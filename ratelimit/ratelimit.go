package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"ordermesh/coordination"
	"ordermesh/logger"
)

// Result 限流检查结果
type Result struct {
	Allowed    bool
	Remaining  int           // 窗口内剩余配额
	ResetAt    time.Time     // 最早事件滑出窗口的时间
	BlockedFor time.Duration // 被封禁时的剩余封禁时长
}

// Config 限流配置
type Config struct {
	MaxRequests int           // 窗口内最大事件数
	Window      time.Duration // 滑动窗口长度
	Block       time.Duration // 超限封禁时长，必须大于窗口
}

// Limiter 滑动窗口限流器
// 按 标识+作用域 维度计数，事件存放在协调存储的过期集合中。
// 达到上限后封禁一段比窗口更长的时间，抑制触发方的重试风暴。
type Limiter struct {
	store coordination.Store
	cfg   Config
}

// New 创建限流器
func New(store coordination.Store, cfg Config) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Block <= cfg.Window {
		cfg.Block = cfg.Window * 5
	}
	return &Limiter{store: store, cfg: cfg}
}

func (l *Limiter) windowKey(identifier, scope string) string {
	return "rl:" + scope + ":" + identifier
}

func (l *Limiter) blockKey(identifier, scope string) string {
	return "rl:block:" + scope + ":" + identifier
}

// eventMember 生成窗口事件的唯一成员标识
func eventMember(at time.Time) string {
	b := make([]byte, 8)
	rand.Read(b)
	return strconv.FormatInt(at.UnixNano(), 36) + ":" + hex.EncodeToString(b)
}

// Check 检查并记录一次事件
// 通过时返回剩余配额和重置时间；超限时封禁该标识并返回封禁时长。
func (l *Limiter) Check(ctx context.Context, identifier, scope string) (*Result, error) {
	now := time.Now()

	// 已被封禁的标识直接拒绝
	blocked, err := l.store.Get(ctx, l.blockKey(identifier, scope))
	if err != nil {
		return nil, fmt.Errorf("限流封禁检查失败: %w", err)
	}
	if blocked != "" {
		ttl, _ := l.store.TTL(ctx, l.blockKey(identifier, scope))
		return &Result{Allowed: false, BlockedFor: ttl}, nil
	}

	// 清除窗口外的事件后计数
	winKey := l.windowKey(identifier, scope)
	count, err := l.store.WindowCount(ctx, winKey, now.Add(-l.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("限流窗口计数失败: %w", err)
	}

	if count >= int64(l.cfg.MaxRequests) {
		// 超限：封禁比窗口更长的时间
		if err := l.store.Set(ctx, l.blockKey(identifier, scope), "1", l.cfg.Block); err != nil {
			return nil, fmt.Errorf("限流封禁写入失败: %w", err)
		}
		logger.Warn("🚦 [限流] %s/%s 在 %v 内达到 %d 次上限，封禁 %v",
			scope, identifier, l.cfg.Window, l.cfg.MaxRequests, l.cfg.Block)
		return &Result{Allowed: false, BlockedFor: l.cfg.Block}, nil
	}

	// 记录本次事件，窗口 key 的 TTL 略大于窗口本身
	if err := l.store.WindowAdd(ctx, winKey, eventMember(now), now, l.cfg.Window*2); err != nil {
		return nil, fmt.Errorf("限流事件记录失败: %w", err)
	}

	resetAt := now.Add(l.cfg.Window)
	if oldest, err := l.store.WindowOldest(ctx, winKey); err == nil && !oldest.IsZero() {
		resetAt = oldest.Add(l.cfg.Window)
	}

	return &Result{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - int(count) - 1,
		ResetAt:   resetAt,
	}, nil
}
