package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AdminConfig struct {
	Key       string  `mapstructure:"key"`
	ReadOnly  bool    `mapstructure:"read_only"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst int     `mapstructure:"rate_burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
	AnalyticsListKey      string `mapstructure:"analytics_list_key"`
	AnalyticsListMax      int    `mapstructure:"analytics_list_max"`
}

type ChainConfig struct {
	RPCURL                string  `mapstructure:"rpc_url"`
	ChainID               int64   `mapstructure:"chain_id"`
	ExecutorPrivateKey    string  `mapstructure:"executor_private_key"`
	PermissionManager     string  `mapstructure:"permission_manager"` // contract address
	ReceiptTimeoutSeconds int     `mapstructure:"receipt_timeout_seconds"`
	ReceiptPollMs         int     `mapstructure:"receipt_poll_ms"`
	CallTimeoutMs         int     `mapstructure:"call_timeout_ms"`
	LedgerAllowanceCheck  bool    `mapstructure:"ledger_allowance_check"`
	GasLimitMultiplier    float64 `mapstructure:"gas_limit_multiplier"`
}

type OracleConfig struct {
	PriceURL          string  `mapstructure:"price_url"`  // template, {asset} is replaced
	PricePath         string  `mapstructure:"price_path"` // gjson path, {asset} is replaced
	PriceWSURL        string  `mapstructure:"price_ws_url"`
	StaleSeconds      int     `mapstructure:"stale_seconds"`
	CacheSeconds      int     `mapstructure:"cache_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutMs         int     `mapstructure:"timeout_ms"`
}

type SchedulerConfig struct {
	IntervalMinutes   int  `mapstructure:"interval_minutes"`
	WarmupSeconds     int  `mapstructure:"warmup_seconds"`
	MaxHealthyErrors  int  `mapstructure:"max_healthy_errors"`
	MaxBackoffSeconds int  `mapstructure:"max_backoff_seconds"`
	AutoStart         bool `mapstructure:"auto_start"`
}

type ExecutionConfig struct {
	Slippage                 float64 `mapstructure:"slippage"` // e.g. 0.05 (5%)
	InterItemDelayMs         int     `mapstructure:"inter_item_delay_ms"`
	RebalanceCooldownMinutes int     `mapstructure:"rebalance_cooldown_minutes"`
	RebalanceReferenceAmount string  `mapstructure:"rebalance_reference_amount"` // base units
	NoiseFloorPercent        float64 `mapstructure:"noise_floor_percent"`
}

type AnalyticsConfig struct {
	QueueSize     int    `mapstructure:"queue_size"`
	BufferSize    int    `mapstructure:"buffer_size"`
	LogDir        string `mapstructure:"log_dir"`
	AsynqEnabled  bool   `mapstructure:"asynq_enabled"`
	AsynqQueue    string `mapstructure:"asynq_queue"`
	WebhookURL    string `mapstructure:"webhook_url"`
	WorkerThreads int    `mapstructure:"worker_threads"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`
	OpenSeconds         int    `mapstructure:"open_seconds"`
	HalfOpenRequests    uint32 `mapstructure:"half_open_requests"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads config.yaml from the working directory (or ./configs, or the
// given paths), then environment variables prefixed with AUTOPILOT_.
// e.g. AUTOPILOT_CHAIN_RPC_URL
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("autopilot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("admin.rate_limit", 20)
	v.SetDefault("admin.rate_burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)
	v.SetDefault("redis.analytics_list_key", "autopilot:executions")
	v.SetDefault("redis.analytics_list_max", 10000)
	v.SetDefault("chain.chain_id", 137)
	v.SetDefault("chain.receipt_timeout_seconds", 120)
	v.SetDefault("chain.receipt_poll_ms", 2000)
	v.SetDefault("chain.call_timeout_ms", 10000)
	v.SetDefault("chain.ledger_allowance_check", true)
	v.SetDefault("chain.gas_limit_multiplier", 1.2)
	v.SetDefault("oracle.price_path", "price")
	v.SetDefault("oracle.stale_seconds", 30)
	v.SetDefault("oracle.cache_seconds", 15)
	v.SetDefault("oracle.requests_per_second", 5)
	v.SetDefault("oracle.timeout_ms", 5000)
	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.warmup_seconds", 5)
	v.SetDefault("scheduler.max_healthy_errors", 10)
	v.SetDefault("scheduler.max_backoff_seconds", 60)
	v.SetDefault("scheduler.auto_start", true)
	v.SetDefault("execution.slippage", 0.05)
	v.SetDefault("execution.inter_item_delay_ms", 2000)
	v.SetDefault("execution.rebalance_cooldown_minutes", 60)
	v.SetDefault("execution.rebalance_reference_amount", "1000000")
	v.SetDefault("execution.noise_floor_percent", 0.1)
	v.SetDefault("analytics.queue_size", 1000)
	v.SetDefault("analytics.buffer_size", 500)
	v.SetDefault("analytics.asynq_queue", "analytics")
	v.SetDefault("analytics.worker_threads", 4)
	v.SetDefault("breaker.consecutive_failures", 5)
	v.SetDefault("breaker.open_seconds", 30)
	v.SetDefault("breaker.half_open_requests", 1)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects values the engines cannot operate with.
func (c *Config) Validate() error {
	if c.Scheduler.IntervalMinutes < 1 {
		return fmt.Errorf("scheduler.interval_minutes must be >= 1, got %d", c.Scheduler.IntervalMinutes)
	}
	if c.Execution.Slippage < 0 || c.Execution.Slippage >= 1 {
		return fmt.Errorf("execution.slippage must be in [0,1), got %v", c.Execution.Slippage)
	}
	if c.Execution.InterItemDelayMs < 0 {
		return errors.New("execution.inter_item_delay_ms must not be negative")
	}
	if c.Analytics.QueueSize <= 0 {
		return errors.New("analytics.queue_size must be positive")
	}
	return nil
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s SchedulerConfig) Warmup() time.Duration {
	return time.Duration(s.WarmupSeconds) * time.Second
}

func (s SchedulerConfig) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffSeconds) * time.Second
}

func (e ExecutionConfig) InterItemDelay() time.Duration {
	return time.Duration(e.InterItemDelayMs) * time.Millisecond
}

func (e ExecutionConfig) RebalanceCooldown() time.Duration {
	return time.Duration(e.RebalanceCooldownMinutes) * time.Minute
}

func (c ChainConfig) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSeconds) * time.Second
}

func (c ChainConfig) ReceiptPoll() time.Duration {
	return time.Duration(c.ReceiptPollMs) * time.Millisecond
}

func (c ChainConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}
