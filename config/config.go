package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig                `mapstructure:"server"`
	Database     DatabaseConfig              `mapstructure:"database"`
	Redis        RedisConfig                 `mapstructure:"redis"`
	JWT          JWTConfig                   `mapstructure:"jwt"`
	OSS          OSSConfig                   `mapstructure:"oss"`
	Log          LogConfig                   `mapstructure:"log"`
	Queue        QueueConfig                 `mapstructure:"queue"`
	CORS         CORSConfig                  `mapstructure:"cors"`
	OpenAI       OpenAIConfig                `mapstructure:"openai"`
	Cache        CacheConfig                 `mapstructure:"cache"`
	Health       HealthConfig                `mapstructure:"health"`
	Ledger       LedgerConfig                `mapstructure:"ledger"`
	Orchestrator OrchestratorConfig          `mapstructure:"orchestrator"`
	Capabilities map[string]CapabilityConfig `mapstructure:"capabilities"`
	Providers    []ProviderConfig            `mapstructure:"providers"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text, json
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type QueueConfig struct {
	BillingQueue string        `mapstructure:"billing_queue"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	RecoverEvery time.Duration `mapstructure:"recover_every"`
	RecoverBatch int           `mapstructure:"recover_batch"`
	PromoteEvery time.Duration `mapstructure:"promote_every"`
	PopTimeout   time.Duration `mapstructure:"pop_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
	ModerationModel string `mapstructure:"moderation_model"`
}

type CacheConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	MaxCandidates       int           `mapstructure:"max_candidates"`
	EmbeddingTTL        time.Duration `mapstructure:"embedding_ttl"`
}

type HealthConfig struct {
	Window               time.Duration `mapstructure:"window"`
	Bucket               time.Duration `mapstructure:"bucket"`
	MinSamples           int           `mapstructure:"min_samples"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	ConsecutiveFailures  int           `mapstructure:"consecutive_failures"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	ProbeTTL             time.Duration `mapstructure:"probe_ttl"`
}

type LedgerConfig struct {
	LockWait     time.Duration         `mapstructure:"lock_wait"`
	LockTTL      time.Duration         `mapstructure:"lock_ttl"`
	ResetWeekday string                `mapstructure:"reset_weekday"` // monday ... sunday (UTC)
	ResetBatch   int                   `mapstructure:"reset_batch"`
	Plans        map[string]PlanConfig `mapstructure:"plans"`
	DefaultPlan  string                `mapstructure:"default_plan"`
}

type PlanConfig struct {
	WeeklyCredits int64 `mapstructure:"weekly_credits"`
}

type OrchestratorConfig struct {
	ProviderTimeout      time.Duration `mapstructure:"provider_timeout"`
	InFlightWait         time.Duration `mapstructure:"in_flight_wait"`
	InFlightPoll         time.Duration `mapstructure:"in_flight_poll"`
	RunLockTTL           time.Duration `mapstructure:"run_lock_ttl"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	AbandonAfter         time.Duration `mapstructure:"abandon_after"`
	EscalateOnExhaustion bool          `mapstructure:"escalate_on_exhaustion"`
}

// CapabilityConfig 单个能力（image、video ...）的计费与静态优先级
type CapabilityConfig struct {
	Cost      int64                    `mapstructure:"cost"`
	Providers []CapabilityProviderSlot `mapstructure:"providers"`
}

type CapabilityProviderSlot struct {
	ID       string `mapstructure:"id"`
	Tier     string `mapstructure:"tier"` // unlimited, fallback
	Priority int    `mapstructure:"priority"`
	Cost     int64  `mapstructure:"cost"` // 0 表示沿用能力默认价格
}

type ProviderConfig struct {
	ID           string        `mapstructure:"id"`
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       []string      `mapstructure:"scopes"`
}

func Load(configPath string) (*Config, error) {
	// .env 只用于本地开发，不存在时忽略
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("queue.billing_queue", "generation_billing")
	v.SetDefault("queue.max_workers", 4)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.retry_backoff", "2s")
	v.SetDefault("queue.recover_every", "1m")
	v.SetDefault("queue.recover_batch", 100)
	v.SetDefault("queue.promote_every", "1s")
	v.SetDefault("queue.pop_timeout", "5s")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.moderation_model", "text-moderation-latest")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.similarity_threshold", 0.85)
	v.SetDefault("cache.max_candidates", 2000)
	v.SetDefault("cache.embedding_ttl", "24h")
	v.SetDefault("health.window", "5m")
	v.SetDefault("health.bucket", "30s")
	v.SetDefault("health.min_samples", 5)
	v.SetDefault("health.failure_rate_threshold", 0.5)
	v.SetDefault("health.consecutive_failures", 3)
	v.SetDefault("health.cooldown", "1m")
	v.SetDefault("health.probe_ttl", "2m")
	v.SetDefault("ledger.lock_wait", "10s")
	v.SetDefault("ledger.lock_ttl", "30s")
	v.SetDefault("ledger.reset_weekday", "monday")
	v.SetDefault("ledger.reset_batch", 200)
	v.SetDefault("ledger.default_plan", "free")
	v.SetDefault("orchestrator.provider_timeout", "60s")
	v.SetDefault("orchestrator.in_flight_wait", "90s")
	v.SetDefault("orchestrator.in_flight_poll", "200ms")
	v.SetDefault("orchestrator.run_lock_ttl", "3m")
	v.SetDefault("orchestrator.stale_after", "10m")
	v.SetDefault("orchestrator.abandon_after", "1h")
	v.SetDefault("orchestrator.escalate_on_exhaustion", true)
}
