package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ordermesh/breaker"
	"ordermesh/config"
	"ordermesh/coordination"
	"ordermesh/exchange"
	"ordermesh/lock"
	"ordermesh/logger"
	"ordermesh/metrics"
	"ordermesh/notify"
	"ordermesh/order"
	"ordermesh/position"
	"ordermesh/ratelimit"
	"ordermesh/replay"
	"ordermesh/storage"
	"ordermesh/web"
)

// Version 版本号
var Version = "1.0.0"

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本号后退出")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("OrderMesh Execution Engine\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[FATAL] 加载配置失败: %v", err)
	}

	// 日志级别和时区尽早生效，后面的启动日志才按配置输出
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if cfg.System.Timezone != "" {
		loc, err := time.LoadLocation(cfg.System.Timezone)
		if err != nil {
			log.Printf("[WARN] 时区 %s 加载失败: %v，继续使用本地时区", cfg.System.Timezone, err)
		} else {
			logger.SetLocation(loc)
		}
	}
	defer logger.Close()

	logger.Infoln("========================================")
	logger.Info("🚀 OrderMesh 执行引擎启动 (版本 %s)", Version)
	logger.Info("📌 交易所: %s | 交易对: %s | 持仓模式: %s",
		cfg.App.CurrentExchange, cfg.Trading.Symbol, cfg.Trading.PositionMode)
	logger.Infoln("========================================")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 协调存储：锁、熔断、限流、防重放共用同一个后端
	store, err := coordination.NewStore(&coordination.Config{
		Type:   cfg.Coordination.Type,
		Prefix: cfg.Coordination.Prefix,
		Redis: coordination.RedisConfig{
			Addr:     cfg.Coordination.Redis.Addr,
			Password: cfg.Coordination.Redis.Password,
			DB:       cfg.Coordination.Redis.DB,
			PoolSize: cfg.Coordination.Redis.PoolSize,
		},
	})
	if err != nil {
		logger.Error("❌ 初始化协调存储失败: %v", err)
		os.Exit(1)
	}

	db, err := storage.NewStorage(&cfg.Database)
	if err != nil {
		logger.Error("❌ 初始化数据库失败: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	exch, err := exchange.NewExchange(cfg, cfg.App.CurrentExchange)
	if err != nil {
		logger.Error("❌ 初始化交易所适配器失败: %v", err)
		os.Exit(1)
	}
	logger.Info("✅ 交易所适配器已就绪: %s", exch.GetName())

	notifier := notify.NewNotificationService(cfg)

	locker := lock.NewLocker(store, "lock:")
	brk := breaker.New(store, exch.GetName(), breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	})
	limiter := ratelimit.New(store, ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		Block:       time.Duration(cfg.RateLimit.BlockSeconds) * time.Second,
	})
	guard := replay.NewGuard(store, replay.Config{
		MaxDrift:         time.Duration(cfg.Security.MaxDriftSeconds) * time.Second,
		NonceTTL:         time.Duration(cfg.Security.NonceTTLSeconds) * time.Second,
		RequireSignature: cfg.Security.RequireSignature,
		Secrets:          cfg.Security.Secrets,
	}, notifier)

	executor := order.NewExecutor(order.Config{
		Exchange:        cfg.App.CurrentExchange,
		AccountID:       cfg.App.AccountID,
		PositionMode:    cfg.Trading.PositionMode,
		DefaultLeverage: cfg.Trading.DefaultLeverage,
		LockTTL:         time.Duration(cfg.Execution.LockTTLSeconds) * time.Second,
		LockWait:        time.Duration(cfg.Execution.LockWaitSeconds) * time.Second,
		RequestTimeout:  time.Duration(cfg.Execution.RequestTimeoutSecs) * time.Second,
	}, exch, locker, brk, limiter, db, notifier)

	reconciler := position.NewReconciler(exch, db, locker, notifier,
		cfg.App.AccountID, cfg.Trading.Symbol,
		time.Duration(cfg.Trading.ReconcileInterval)*time.Second)
	reconciler.Start(ctx)

	metricsInterval := time.Duration(cfg.System.MetricsInterval) * time.Second
	if metricsInterval <= 0 {
		metricsInterval = 30 * time.Second
	}
	metrics.NewSystemCollector(metricsInterval).Start(ctx)

	// 配置热更新：目前只有日志级别即时生效，其余字段下次重启才应用
	watcher, err := config.NewConfigWatcher(*configPath)
	if err != nil {
		logger.Warn("⚠️ 配置监听器初始化失败: %v，热更新不可用", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 配置监听器启动失败: %v", err)
		} else {
			go func() {
				for newCfg := range watcher.Updates() {
					logger.Infoln("🔄 检测到配置变更")
					if newCfg.System.LogLevel != cfg.System.LogLevel {
						logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
						logger.Info("✅ 日志级别已切换为 %s", newCfg.System.LogLevel)
					}
				}
			}()
		}
	}

	if cfg.Server.Enabled {
		srv := web.NewServer(executor, guard, cfg.Server.Listen)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("❌ Web 服务异常退出: %v", err)
				stop()
			}
		}()
		logger.Info("🌐 Web 服务已启动: %s", cfg.Server.Listen)
	}

	<-ctx.Done()
	logger.Infoln("🛑 收到退出信号，正在关闭...")
}
