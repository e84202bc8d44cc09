package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ordermesh/coordination"
)

// ErrContention 在等待上限内未能获取锁
// 对当次提交是终态错误，调用方不应在锁外重试提交。
var ErrContention = errors.New("lock contention: could not acquire within wait budget")

// Handle 锁句柄
// token 唯一标识本次获取，释放和续期都必须携带，防止误删他人的锁。
type Handle struct {
	Key      string
	Token    string
	TTL      time.Duration
	Acquired time.Time
}

// Locker 分布式锁
// 基于协调存储的原子 SetNX / CompareAndDelete 实现。
// TTL 只用来兜底持有者崩溃的情况，正常路径必须显式 Release。
type Locker struct {
	store  coordination.Store
	prefix string
}

// NewLocker 创建分布式锁
func NewLocker(store coordination.Store, prefix string) *Locker {
	return &Locker{
		store:  store,
		prefix: prefix,
	}
}

// generateToken 为每次获取生成唯一 token
func generateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TryAcquire 尝试获取锁，立即返回
// 返回 nil 句柄表示锁已被占用
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	token := generateToken()

	ok, err := l.store.SetNX(ctx, l.prefix+key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("获取锁失败: %w", err)
	}
	if !ok {
		return nil, nil
	}

	return &Handle{
		Key:      key,
		Token:    token,
		TTL:      ttl,
		Acquired: time.Now(),
	}, nil
}

// Acquire 获取锁，阻塞直到成功或超出 wait
// wait 必须小于调用方自身的截止时间，超出后返回 ErrContention 而不是无限等待
func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Handle, error) {
	// 先试一次，无竞争时不付轮询延迟
	h, err := l.TryAcquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	if h != nil {
		return h, nil
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("%w (key=%s, wait=%v)", ErrContention, key, wait)
			}
			h, err := l.TryAcquire(ctx, key, ttl)
			if err != nil {
				return nil, err
			}
			if h != nil {
				return h, nil
			}
		}
	}
}

// Release 释放锁
// 只有 token 匹配时才会删除，返回 false 表示锁已过期或被他人持有
func (l *Locker) Release(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, nil
	}

	ok, err := l.store.CompareAndDelete(ctx, l.prefix+h.Key, h.Token)
	if err != nil {
		return false, fmt.Errorf("释放锁失败: %w", err)
	}
	return ok, nil
}

// Extend 延长锁的过期时间
// 只有 token 匹配时才会续期
func (l *Locker) Extend(ctx context.Context, h *Handle, ttl time.Duration) (bool, error) {
	if h == nil {
		return false, nil
	}

	ok, err := l.store.CompareAndExpire(ctx, l.prefix+h.Key, h.Token, ttl)
	if err != nil {
		return false, fmt.Errorf("延长锁失败: %w", err)
	}
	if ok {
		h.TTL = ttl
	}
	return ok, nil
}
