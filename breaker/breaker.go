package breaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ordermesh/coordination"
	"ordermesh/exchange"
	"ordermesh/logger"
	"ordermesh/metrics"
)

// State 熔断器状态
type State string

const (
	StateClosed   State = "CLOSED"    // 正常放行
	StateOpen     State = "OPEN"      // 快速失败，不发起网络请求
	StateHalfOpen State = "HALF_OPEN" // 探测恢复
)

// CircuitOpenError 熔断打开时的快速失败错误
// RetryAfter 告知调用方剩余冷却时间。
type CircuitOpenError struct {
	Venue      string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %v", e.Venue, e.RetryAfter.Round(time.Millisecond))
}

// Config 熔断器配置
type Config struct {
	FailureThreshold int           // CLOSED 状态下连续失败多少次打开熔断
	SuccessThreshold int           // HALF_OPEN 状态下连续成功多少次关闭熔断
	Cooldown         time.Duration // OPEN 状态冷却时间
}

// Breaker 按交易所维度的熔断器
// 状态和计数存放在协调存储中，同一交易所的多个进程共享。
// 状态迁移通过 CAS 线性化，并发失败上报不会把阈值打穿两次。
type Breaker struct {
	store   coordination.Store
	venue   string
	cfg     Config
	metrics *metrics.PrometheusMetrics

	// key 兜底 TTL，进程全部崩溃后状态自动回到 CLOSED
	keyTTL time.Duration
}

// New 创建熔断器
func New(store coordination.Store, venue string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	keyTTL := cfg.Cooldown * 20
	if keyTTL < time.Hour {
		keyTTL = time.Hour
	}

	return &Breaker{
		store:   store,
		venue:   venue,
		cfg:     cfg,
		metrics: metrics.GetPrometheusMetrics(),
		keyTTL:  keyTTL,
	}
}

func (b *Breaker) stateKey() string    { return "cb:" + b.venue + ":state" }
func (b *Breaker) failKey() string     { return "cb:" + b.venue + ":failures" }
func (b *Breaker) succKey() string     { return "cb:" + b.venue + ":successes" }
func (b *Breaker) openedAtKey() string { return "cb:" + b.venue + ":opened_at" }
func (b *Breaker) probeKey() string    { return "cb:" + b.venue + ":probe" }

// State 读取当前状态
func (b *Breaker) State(ctx context.Context) (State, error) {
	val, err := b.store.Get(ctx, b.stateKey())
	if err != nil {
		return "", err
	}
	if val == "" {
		return StateClosed, nil
	}
	return State(val), nil
}

// Allow 判断本次调用是否放行
// OPEN 状态直接返回 CircuitOpenError，不发起任何网络请求。
// 协调存储不可达时视为不放行（对下单这类有资金后果的调用宁可保守）。
func (b *Breaker) Allow(ctx context.Context) error {
	state, err := b.State(ctx)
	if err != nil {
		return fmt.Errorf("熔断器状态读取失败: %w", err)
	}

	switch state {
	case StateClosed:
		return nil

	case StateOpen:
		remaining, err := b.cooldownRemaining(ctx)
		if err != nil {
			return fmt.Errorf("熔断器冷却时间读取失败: %w", err)
		}
		if remaining > 0 {
			return &CircuitOpenError{Venue: b.venue, RetryAfter: remaining}
		}

		// 冷却结束，尝试进入 HALF_OPEN；CAS 失败说明别的进程已经迁移过了
		moved, err := b.store.CompareAndSwap(ctx, b.stateKey(), string(StateOpen), string(StateHalfOpen), b.keyTTL)
		if err != nil {
			return fmt.Errorf("熔断器状态迁移失败: %w", err)
		}
		if moved {
			b.store.Delete(ctx, b.succKey())
			b.metrics.SetCircuitState(b.venue, string(StateHalfOpen))
			logger.Info("🔌 [%s] 熔断器进入半开状态，开始探测", b.venue)
		}
		return b.claimProbe(ctx)

	case StateHalfOpen:
		return b.claimProbe(ctx)

	default:
		return fmt.Errorf("熔断器状态非法: %s", state)
	}
}

// claimProbe 申请半开状态的探测名额，同一时刻只放一个请求过去
func (b *Breaker) claimProbe(ctx context.Context) error {
	ok, err := b.store.SetNX(ctx, b.probeKey(), "1", b.cfg.Cooldown)
	if err != nil {
		return fmt.Errorf("熔断器探测申请失败: %w", err)
	}
	if !ok {
		ttl, _ := b.store.TTL(ctx, b.probeKey())
		return &CircuitOpenError{Venue: b.venue, RetryAfter: ttl}
	}
	return nil
}

// cooldownRemaining 计算剩余冷却时间
func (b *Breaker) cooldownRemaining(ctx context.Context) (time.Duration, error) {
	val, err := b.store.Get(ctx, b.openedAtKey())
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	openedAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	elapsed := time.Since(time.UnixMilli(openedAt))
	if elapsed >= b.cfg.Cooldown {
		return 0, nil
	}
	return b.cfg.Cooldown - elapsed, nil
}

// Success 上报一次成功
func (b *Breaker) Success(ctx context.Context) {
	state, err := b.State(ctx)
	if err != nil {
		logger.Warn("⚠️ [%s] 熔断器成功上报失败: %v", b.venue, err)
		return
	}

	switch state {
	case StateClosed:
		// 连续失败计数被成功打断
		b.store.Delete(ctx, b.failKey())

	case StateHalfOpen:
		b.store.Delete(ctx, b.probeKey())
		n, err := b.store.Increment(ctx, b.succKey(), b.keyTTL)
		if err != nil {
			logger.Warn("⚠️ [%s] 熔断器成功计数失败: %v", b.venue, err)
			return
		}
		if n >= int64(b.cfg.SuccessThreshold) {
			moved, err := b.store.CompareAndSwap(ctx, b.stateKey(), string(StateHalfOpen), string(StateClosed), b.keyTTL)
			if err != nil {
				logger.Warn("⚠️ [%s] 熔断器关闭失败: %v", b.venue, err)
				return
			}
			if moved {
				b.store.Delete(ctx, b.failKey())
				b.store.Delete(ctx, b.succKey())
				b.store.Delete(ctx, b.openedAtKey())
				b.metrics.SetCircuitState(b.venue, string(StateClosed))
				logger.Info("✅ [%s] 熔断器已恢复关闭状态", b.venue)
			}
		}
	}
}

// Failure 上报一次失败
// 超时也按失败处理：远端可能已执行成功，但对熔断统计而言它就是一次不可用。
func (b *Breaker) Failure(ctx context.Context) {
	state, err := b.State(ctx)
	if err != nil {
		logger.Warn("⚠️ [%s] 熔断器失败上报失败: %v", b.venue, err)
		return
	}

	switch state {
	case StateClosed:
		n, err := b.store.Increment(ctx, b.failKey(), b.keyTTL)
		if err != nil {
			logger.Warn("⚠️ [%s] 熔断器失败计数失败: %v", b.venue, err)
			return
		}
		if n >= int64(b.cfg.FailureThreshold) {
			b.trip(ctx, string(StateClosed))
		}

	case StateHalfOpen:
		// 探测失败立即重新打开
		b.store.Delete(ctx, b.probeKey())
		b.trip(ctx, string(StateHalfOpen))
	}
}

// trip 打开熔断并记录打开时间
// CAS 失败说明并发的失败上报已经打开过了，不重复打开
func (b *Breaker) trip(ctx context.Context, from string) {
	var moved bool
	var err error
	if from == string(StateClosed) {
		// state key 可能还不存在（从未迁移过），先试 SetNX 再试 CAS
		moved, err = b.store.SetNX(ctx, b.stateKey(), string(StateOpen), b.keyTTL)
		if err == nil && !moved {
			moved, err = b.store.CompareAndSwap(ctx, b.stateKey(), from, string(StateOpen), b.keyTTL)
		}
	} else {
		moved, err = b.store.CompareAndSwap(ctx, b.stateKey(), from, string(StateOpen), b.keyTTL)
	}
	if err != nil {
		logger.Warn("⚠️ [%s] 熔断器打开失败: %v", b.venue, err)
		return
	}
	if moved {
		b.store.Set(ctx, b.openedAtKey(), strconv.FormatInt(time.Now().UnixMilli(), 10), b.keyTTL)
		b.store.Delete(ctx, b.failKey())
		b.metrics.RecordCircuitOpen(b.venue)
		b.metrics.SetCircuitState(b.venue, string(StateOpen))
		logger.Warn("🚨 [%s] 熔断器已打开，冷却 %v", b.venue, b.cfg.Cooldown)
	}
}

// Execute 包装一次受熔断保护的调用
// 只有不可用类错误计入熔断：业务拒单和鉴权错误说明交易所在正常应答，
// 把它们计入失败会让一条错误配置熔断整个交易所。
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(ctx); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		if isOutage(err) {
			b.Failure(ctx)
		} else {
			b.Success(ctx)
		}
		return err
	}
	b.Success(ctx)
	return nil
}

// isOutage 判断错误是否代表交易所不可用
func isOutage(err error) bool {
	return exchange.IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded)
}
