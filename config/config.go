package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig 单个交易所配置
type ExchangeConfig struct {
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"` // OKX 等交易所需要
	Testnet    bool   `yaml:"testnet"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type         string `yaml:"type"` // sqlite / mysql / postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	LogLevel     string `yaml:"log_level"`
}

// Config 订单执行引擎配置
type Config struct {
	// 应用配置
	App struct {
		CurrentExchange string `yaml:"current_exchange"` // 当前使用的交易所
		AccountID       string `yaml:"account_id"`       // 账户标识（用于锁的 key）
	} `yaml:"app"`

	// 多交易所配置
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading struct {
		Symbol            string  `yaml:"symbol"`
		DefaultLeverage   int     `yaml:"default_leverage"`    // 默认杠杆倍数
		PositionMode      string  `yaml:"position_mode"`       // net（单向持仓）/ hedge（双向持仓）
		MaxPriceDeviation float64 `yaml:"max_price_deviation"` // 价格合理性上限（相对最新价的偏离比例）
		ReconcileInterval int     `yaml:"reconcile_interval"`  // 对账间隔（秒）
	} `yaml:"trading"`

	// 执行配置
	Execution struct {
		LockTTLSeconds     int `yaml:"lock_ttl_seconds"`     // 提交锁 TTL（默认 30）
		LockWaitSeconds    int `yaml:"lock_wait_seconds"`    // 锁等待上限（默认 2，必须小于请求超时）
		RequestTimeoutSecs int `yaml:"request_timeout_secs"` // 单次外呼超时（默认 10）
	} `yaml:"execution"`

	// 协调存储配置（锁/熔断计数/限流窗口/nonce 共用）
	Coordination struct {
		Type   string `yaml:"type"`   // redis / memory
		Prefix string `yaml:"prefix"` // key 前缀
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"coordination"`

	// 熔断器配置
	Breaker struct {
		FailureThreshold int `yaml:"failure_threshold"` // 连续失败阈值（默认 5）
		SuccessThreshold int `yaml:"success_threshold"` // 半开状态恢复阈值（默认 2）
		CooldownSeconds  int `yaml:"cooldown_seconds"`  // 熔断冷却时间（默认 30）
	} `yaml:"breaker"`

	// 限流配置
	RateLimit struct {
		MaxRequests   int `yaml:"max_requests"`   // 窗口内最大请求数（默认 10）
		WindowSeconds int `yaml:"window_seconds"` // 滑动窗口长度（默认 60）
		BlockSeconds  int `yaml:"block_seconds"`  // 超限封禁时长（默认 300，必须大于窗口）
	} `yaml:"rate_limit"`

	// 安全配置（防重放）
	Security struct {
		MaxDriftSeconds  int               `yaml:"max_drift_seconds"` // 时间戳允许漂移（默认 300）
		NonceTTLSeconds  int               `yaml:"nonce_ttl_seconds"` // nonce 有效窗口（默认 600）
		RequireSignature bool              `yaml:"require_signature"` // 是否强制要求签名
		Secrets          map[string]string `yaml:"secrets"`           // 触发方身份 -> HMAC 密钥
	} `yaml:"security"`

	// 数据库配置
	Database DatabaseConfig `yaml:"database"`

	// Web 服务配置
	Server struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"` // 监听地址，如 ":8080"
	} `yaml:"server"`

	// 通知配置
	Notifications struct {
		Enabled bool `yaml:"enabled"`
		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒
		} `yaml:"webhook"`
		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"notifications"`

	System struct {
		LogLevel        string `yaml:"log_level"`
		Timezone        string `yaml:"timezone"`         // 时区，如 "Asia/Shanghai"
		MetricsInterval int    `yaml:"metrics_interval"` // 系统指标采集间隔（秒）
	} `yaml:"system"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 填充默认值
func (c *Config) applyDefaults() {
	if c.Execution.LockTTLSeconds <= 0 {
		c.Execution.LockTTLSeconds = 30
	}
	if c.Execution.LockWaitSeconds <= 0 {
		c.Execution.LockWaitSeconds = 2
	}
	if c.Execution.RequestTimeoutSecs <= 0 {
		c.Execution.RequestTimeoutSecs = 10
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessThreshold <= 0 {
		c.Breaker.SuccessThreshold = 2
	}
	if c.Breaker.CooldownSeconds <= 0 {
		c.Breaker.CooldownSeconds = 30
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 10
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.BlockSeconds <= c.RateLimit.WindowSeconds {
		// 封禁时长必须大于窗口，否则起不到抑制重试风暴的作用
		c.RateLimit.BlockSeconds = c.RateLimit.WindowSeconds * 5
	}
	if c.Security.MaxDriftSeconds <= 0 {
		c.Security.MaxDriftSeconds = 300
	}
	if c.Security.NonceTTLSeconds <= 0 {
		c.Security.NonceTTLSeconds = 600
	}
	if c.Trading.PositionMode == "" {
		c.Trading.PositionMode = "net"
	}
	if c.Trading.ReconcileInterval <= 0 {
		c.Trading.ReconcileInterval = 60
	}
	if c.Coordination.Type == "" {
		c.Coordination.Type = "memory"
	}
	if c.Coordination.Prefix == "" {
		c.Coordination.Prefix = "ordermesh:"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "data/ordermesh.db"
	}
	if c.System.MetricsInterval <= 0 {
		c.System.MetricsInterval = 30
	}
	if c.App.AccountID == "" {
		c.App.AccountID = "default"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.App.CurrentExchange == "" {
		return fmt.Errorf("app.current_exchange 未配置")
	}
	if _, ok := c.Exchanges[c.App.CurrentExchange]; !ok {
		return fmt.Errorf("交易所 %s 的凭证未配置", c.App.CurrentExchange)
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol 未配置")
	}
	switch c.Trading.PositionMode {
	case "net", "hedge":
	default:
		return fmt.Errorf("不支持的持仓模式: %s（仅支持 net / hedge）", c.Trading.PositionMode)
	}
	if c.Execution.LockWaitSeconds >= c.Execution.RequestTimeoutSecs {
		return fmt.Errorf("锁等待时间（%ds）必须小于请求超时（%ds）",
			c.Execution.LockWaitSeconds, c.Execution.RequestTimeoutSecs)
	}
	return nil
}
