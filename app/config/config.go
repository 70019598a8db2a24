package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	AI          AIConfig          `mapstructure:"ai"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Watcher     WatcherConfig     `mapstructure:"watcher"`
	Rules       RulesConfig       `mapstructure:"rules"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	WorkerSecret string `mapstructure:"worker_secret"` // 工作进程触发接口的共享密钥
	TriggerURL   string `mapstructure:"trigger_url"`   // 工作进程唤醒地址
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"` // 所有键的命名空间前缀
}

type WorkerConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`     // 任务进入死信队列前的最大重试次数
	MaxBatch       int           `mapstructure:"max_batch"`       // 每次唤醒最多处理的任务数
	IdleInterval   time.Duration `mapstructure:"idle_interval"`   // 空闲轮询间隔
	CallTimeout    time.Duration `mapstructure:"call_timeout"`    // 单次处理的总时间预算
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"` // 卡住任务判定阈值
}

type AIConfig struct {
	TranscribeBaseURL string        `mapstructure:"transcribe_base_url"` // 转写服务地址
	SummarizeBaseURL  string        `mapstructure:"summarize_base_url"`  // 摘要服务地址
	Timeout           time.Duration `mapstructure:"timeout"`
	CredentialKey     string        `mapstructure:"credential_key"` // 解密用户凭证的主密钥(base64)
}

type ConcurrencyConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"` // 单个资源的最大并发数
	SlotTTL       time.Duration `mapstructure:"slot_ttl"`       // 槽位自动过期时间
	FailOpen      bool          `mapstructure:"fail_open"`      // 存储不可用时是否放行
}

type RateLimitConfig struct {
	Prefix   string `mapstructure:"prefix"`
	FailOpen bool   `mapstructure:"fail_open"` // 主后端不可用时是否退化到本地计数
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"` // 连续失败多少次后熔断
	CoolDown         time.Duration `mapstructure:"cool_down"`         // 熔断后的冷却时间
}

type StorageConfig struct {
	BaseURL       string        `mapstructure:"base_url"`       // 对象存储网关地址
	SigningSecret string        `mapstructure:"signing_secret"` // 签名下载链接的密钥
	SignedURLTTL  time.Duration `mapstructure:"signed_url_ttl"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"` // 通知回调地址
	Timeout    time.Duration `mapstructure:"timeout"`
}

type WatcherConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	InboxDir string `mapstructure:"inbox_dir"` // 本地上传收件目录
}

type RulesConfig struct {
	Path string `mapstructure:"path"` // 治理规则文件路径
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")
	viper.SetDefault("server.trigger_url", "http://127.0.0.1:5000/api/internal/worker/trigger")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// Redis 默认配置
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "smartmeet")

	// 工作进程默认配置
	viper.SetDefault("worker.max_retries", 3)
	viper.SetDefault("worker.max_batch", 10)
	viper.SetDefault("worker.idle_interval", 5*time.Second)
	viper.SetDefault("worker.call_timeout", 50*time.Second)
	viper.SetDefault("worker.stuck_threshold", 2*time.Minute)

	// AI 服务默认配置
	viper.SetDefault("ai.timeout", 45*time.Second)

	// 并发限制默认配置
	viper.SetDefault("concurrency.max_concurrent", 5)
	viper.SetDefault("concurrency.slot_ttl", 8*time.Minute)
	viper.SetDefault("concurrency.fail_open", true)

	// 频率限制默认配置
	viper.SetDefault("rate_limit.prefix", "rl")
	viper.SetDefault("rate_limit.fail_open", true)

	// 熔断器默认配置
	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.cool_down", 60*time.Second)

	// 对象存储默认配置
	viper.SetDefault("storage.signed_url_ttl", 15*time.Minute)
	viper.SetDefault("storage.timeout", 60*time.Second)

	// 通知默认配置
	viper.SetDefault("notify.timeout", 10*time.Second)

	// 收件目录监控默认配置
	viper.SetDefault("watcher.enabled", false)
	viper.SetDefault("watcher.inbox_dir", "data/inbox")

	// 治理规则默认配置
	viper.SetDefault("rules.path", "data/rules.json")
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Worker.CallTimeout >= config.Worker.StuckThreshold {
		return fmt.Errorf("worker.call_timeout 必须小于 worker.stuck_threshold")
	}
	if config.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold 必须大于 0")
	}
	return nil
}
