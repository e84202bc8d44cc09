package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"ordermesh/logger"
)

// SystemCollector 周期性采集进程与主机指标
type SystemCollector struct {
	metrics  *PrometheusMetrics
	interval time.Duration
}

// NewSystemCollector 创建系统指标采集器
func NewSystemCollector(interval time.Duration) *SystemCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemCollector{
		metrics:  GetPrometheusMetrics(),
		interval: interval,
	}
}

// Start 启动采集循环，ctx 取消后退出
func (sc *SystemCollector) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sc.interval)
		defer ticker.Stop()

		sc.collect(ctx)
		for {
			select {
			case <-ctx.Done():
				logger.Infoln("📊 系统指标采集器已停止")
				return
			case <-ticker.C:
				sc.collect(ctx)
			}
		}
	}()
	logger.Info("📊 系统指标采集器已启动，间隔 %v", sc.interval)
}

func (sc *SystemCollector) collect(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sc.metrics.SetGoroutineCount(runtime.NumGoroutine())
	sc.metrics.SetMemoryAlloc(ms.Alloc)

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sc.metrics.SetCPUUsage(percents[0])
	} else if err != nil {
		logger.Debug("读取 CPU 使用率失败: %v", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sc.metrics.SetHostMemoryUsed(vm.UsedPercent)
	} else {
		logger.Debug("读取内存使用率失败: %v", err)
	}
}
