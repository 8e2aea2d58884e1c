// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Usage         UsageConfig         `yaml:"usage" mapstructure:"usage"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// 准入控制后端
const (
	AdmissionBackendMemory = "memory"
	AdmissionBackendRedis  = "redis"
)

// LLMConfig LLM 编排配置
type LLMConfig struct {
	// DefaultCapability 请求未指定能力标签时使用
	DefaultCapability string `yaml:"default_capability" mapstructure:"default_capability"`
	// DefaultContentType 原始 GenerateContent 调用补全参数时使用的内容类型
	DefaultContentType string `yaml:"default_content_type" mapstructure:"default_content_type"`
	// EstimateOverheadTokens 准入预估时为 prompt 预留的固定 token 数
	EstimateOverheadTokens int `yaml:"estimate_overhead_tokens" mapstructure:"estimate_overhead_tokens"`
	// Window 滚动窗口长度
	Window time.Duration `yaml:"window" mapstructure:"window"`
	// AdmissionBackend memory | redis
	AdmissionBackend string `yaml:"admission_backend" mapstructure:"admission_backend"`
	// DefaultTimeout 单次调用超时（provider 未配置时生效）
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"`

	// Providers 有序的 provider 列表，顺序即选择时的优先级
	Providers    []ProviderConfig             `yaml:"providers" mapstructure:"providers"`
	ContentTypes map[string]ContentTypeConfig `yaml:"content_types" mapstructure:"content_types"`
	Code         CodeTemplateConfig           `yaml:"code" mapstructure:"code"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	Name         string          `yaml:"name" mapstructure:"name"`
	APIKey       string          `yaml:"api_key" mapstructure:"api_key"`
	BaseURL      string          `yaml:"base_url" mapstructure:"base_url"`
	Models       []string        `yaml:"models" mapstructure:"models"`
	Capabilities []string        `yaml:"capabilities" mapstructure:"capabilities"`
	RateLimit    RateLimitPolicy `yaml:"rate_limit" mapstructure:"rate_limit"`
	Timeout      time.Duration   `yaml:"timeout" mapstructure:"timeout"`
}

// RateLimitPolicy provider 的每分钟请求数/Token 数上限
type RateLimitPolicy struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute" mapstructure:"tokens_per_minute"`
}

// ContentTypeConfig 内容类型模板配置
type ContentTypeConfig struct {
	SystemPrompt string  `yaml:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float32 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CodeTemplateConfig 代码生成模板配置
type CodeTemplateConfig struct {
	SystemPrompt string  `yaml:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float32 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	// Capability 代码请求要求的能力标签，默认 text-generation
	Capability string `yaml:"capability" mapstructure:"capability"`
}

// 用量流水写入目标
const (
	UsageSinkPostgres = "postgres"
	UsageSinkStream   = "stream"
)

// UsageConfig 用量流水配置
type UsageConfig struct {
	Sinks []string `yaml:"sinks" mapstructure:"sinks"`
	// WriteTimeout 单次流水写入的超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	// SummaryCacheTTL 用量汇总查询的缓存时间，需要 Redis
	SummaryCacheTTL time.Duration `yaml:"summary_cache_ttl" mapstructure:"summary_cache_ttl"`
}

// HasSink 判断是否启用了指定写入目标
func (c UsageConfig) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BatchSize           int           `yaml:"batch_size" mapstructure:"batch_size"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
