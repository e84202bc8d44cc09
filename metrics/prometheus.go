package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *PrometheusMetrics

	// 订单指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_order_total",
			Help: "Total number of orders submitted",
		},
		[]string{"exchange", "symbol", "side", "status"},
	)

	orderFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_order_failure_total",
			Help: "Total number of failed orders",
		},
		[]string{"exchange", "symbol", "side", "reason"},
	)

	orderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordermesh_order_duration_seconds",
			Help:    "Order execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"exchange", "symbol"},
	)

	degradedSuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_degraded_success_total",
			Help: "Filled entries whose protective leg placement failed",
		},
		[]string{"exchange", "symbol"},
	)

	// API 调用指标
	apiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordermesh_api_call_duration_seconds",
			Help:    "Venue API call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"exchange", "endpoint", "status"},
	)

	// 熔断器指标
	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordermesh_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"exchange"},
	)

	circuitOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_circuit_open_total",
			Help: "Number of times the circuit opened",
		},
		[]string{"exchange"},
	)

	// 锁指标
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_lock_acquire_total",
			Help: "Lock acquisition attempts",
		},
		[]string{"status"},
	)

	lockHoldDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ordermesh_lock_hold_duration_seconds",
			Help:    "How long submission locks were held",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
	)

	// 限流与防重放指标
	rateLimitRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_rate_limit_rejected_total",
			Help: "Requests rejected by the sliding-window limiter",
		},
		[]string{"scope"},
	)

	replayRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_replay_rejected_total",
			Help: "Inbound triggers rejected as replayed or forged",
		},
		[]string{"identity"},
	)

	// 对账指标
	reconciliationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_reconciliation_total",
			Help: "Reconciliation runs",
		},
		[]string{"exchange", "symbol"},
	)

	closedPositionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermesh_closed_position_total",
			Help: "Closed positions derived from fill replay",
		},
		[]string{"exchange", "symbol"},
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordermesh_goroutines",
			Help: "Number of goroutines",
		},
	)

	memoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordermesh_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	cpuUsagePercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordermesh_cpu_usage_percent",
			Help: "Host CPU usage percent",
		},
	)

	hostMemoryUsedPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordermesh_host_memory_used_percent",
			Help: "Host memory usage percent",
		},
	)
)

// PrometheusMetrics Prometheus 指标封装
type PrometheusMetrics struct{}

// GetPrometheusMetrics 获取指标单例
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

// RecordOrder 记录订单结果
func (pm *PrometheusMetrics) RecordOrder(exchange, symbol, side, status string) {
	orderTotal.WithLabelValues(exchange, symbol, side, status).Inc()
}

// RecordOrderFailure 记录订单失败
func (pm *PrometheusMetrics) RecordOrderFailure(exchange, symbol, side, reason string) {
	orderFailureTotal.WithLabelValues(exchange, symbol, side, reason).Inc()
}

// RecordOrderDuration 记录订单执行耗时
func (pm *PrometheusMetrics) RecordOrderDuration(exchange, symbol string, duration time.Duration) {
	orderDuration.WithLabelValues(exchange, symbol).Observe(duration.Seconds())
}

// RecordDegradedSuccess 记录降级成功（主单成交、保护腿失败）
func (pm *PrometheusMetrics) RecordDegradedSuccess(exchange, symbol string) {
	degradedSuccessTotal.WithLabelValues(exchange, symbol).Inc()
}

// RecordAPICall 记录交易所 API 调用
func (pm *PrometheusMetrics) RecordAPICall(exchange, endpoint, status string, duration time.Duration) {
	apiCallDuration.WithLabelValues(exchange, endpoint, status).Observe(duration.Seconds())
}

// SetCircuitState 设置熔断器状态
func (pm *PrometheusMetrics) SetCircuitState(exchange string, state string) {
	var v float64
	switch state {
	case "OPEN":
		v = 1
	case "HALF_OPEN":
		v = 2
	}
	circuitState.WithLabelValues(exchange).Set(v)
}

// RecordCircuitOpen 记录熔断打开
func (pm *PrometheusMetrics) RecordCircuitOpen(exchange string) {
	circuitOpenTotal.WithLabelValues(exchange).Inc()
}

// RecordLockAcquire 记录锁获取结果
func (pm *PrometheusMetrics) RecordLockAcquire(status string) {
	lockAcquireTotal.WithLabelValues(status).Inc()
}

// RecordLockHoldDuration 记录锁持有时长
func (pm *PrometheusMetrics) RecordLockHoldDuration(duration time.Duration) {
	lockHoldDuration.Observe(duration.Seconds())
}

// RecordRateLimitRejected 记录限流拒绝
func (pm *PrometheusMetrics) RecordRateLimitRejected(scope string) {
	rateLimitRejectedTotal.WithLabelValues(scope).Inc()
}

// RecordReplayRejected 记录防重放拒绝
func (pm *PrometheusMetrics) RecordReplayRejected(identity string) {
	replayRejectedTotal.WithLabelValues(identity).Inc()
}

// RecordReconciliation 记录对账执行
func (pm *PrometheusMetrics) RecordReconciliation(exchange, symbol string) {
	reconciliationTotal.WithLabelValues(exchange, symbol).Inc()
}

// RecordClosedPosition 记录平仓记录生成
func (pm *PrometheusMetrics) RecordClosedPosition(exchange, symbol string) {
	closedPositionTotal.WithLabelValues(exchange, symbol).Inc()
}

// SetGoroutineCount 设置协程数
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置内存分配
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAlloc.Set(float64(bytes))
}

// SetCPUUsage 设置主机 CPU 使用率
func (pm *PrometheusMetrics) SetCPUUsage(percent float64) {
	cpuUsagePercent.Set(percent)
}

// SetHostMemoryUsed 设置主机内存使用率
func (pm *PrometheusMetrics) SetHostMemoryUsed(percent float64) {
	hostMemoryUsedPercent.Set(percent)
}
