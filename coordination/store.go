package coordination

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable 协调存储不可达
// 各组件据此决定降级策略：防重放校验放行并记录安全事件，熔断器按失败处理。
var ErrUnavailable = errors.New("coordination store unavailable")

// Store 跨进程协调存储抽象
// 锁、熔断计数、限流窗口、重放 nonce 共用这一组原语。
// 任何提供原子 CAS、自增、过期集合的后端都可以实现此接口。
// 约定：所有 key 必须带过期时间，进程崩溃不留下永久垃圾。
type Store interface {
	// SetNX 当 key 不存在时原子写入，返回是否写入成功
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get 读取 key 的值，key 不存在时返回空串且无错误
	Get(ctx context.Context, key string) (string, error)

	// CompareAndSwap 当 key 当前值等于 old 时替换为 new 并刷新 TTL
	// key 不存在时视为比较失败
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)

	// CompareAndDelete 当 key 当前值等于 value 时删除，返回是否删除成功
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// CompareAndExpire 当 key 当前值等于 value 时刷新 TTL
	CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set 无条件写入（带 TTL）
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete 删除 key
	Delete(ctx context.Context, key string) error

	// Increment 原子自增并保证 key 带有 TTL，返回自增后的值
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// WindowAdd 向滑动窗口追加一个事件（member 需唯一）
	WindowAdd(ctx context.Context, key, member string, at time.Time, ttl time.Duration) error

	// WindowCount 清除 since 之前的事件后统计窗口内事件数
	WindowCount(ctx context.Context, key string, since time.Time) (int64, error)

	// WindowOldest 返回窗口内最早事件的时间，窗口为空时返回零值
	WindowOldest(ctx context.Context, key string) (time.Time, error)

	// TTL 返回 key 的剩余存活时间，key 不存在时返回 0
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping 健康检查
	Ping(ctx context.Context) error

	// Close 关闭连接
	Close() error
}
