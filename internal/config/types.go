// Package config defines configuration structures for the CloudVault gateway.
package config

import (
	"time"
)

// Config represents the complete configuration for the gateway.
type Config struct {
	Version   int             `mapstructure:"version"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Uploads   UploadConfig    `mapstructure:"uploads"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Eviction  EvictionConfig  `mapstructure:"eviction"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	MetricsPort   int    `mapstructure:"metrics_port"`
	ReadTimeout   int    `mapstructure:"read_timeout"`
	WriteTimeout  int    `mapstructure:"write_timeout"`
	IdleTimeout   int    `mapstructure:"idle_timeout"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
}

// AuthConfig represents request authentication configuration.
type AuthConfig struct {
	APIKeyEnv        string        `mapstructure:"api_key_env"`
	SigningSecretEnv string        `mapstructure:"signing_secret_env"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`

	// Resolved at load time from the named environment variables.
	APIKey        string `mapstructure:"-"`
	SigningSecret string `mapstructure:"-"`
}

// RelayConfig represents the protocol client configuration.
type RelayConfig struct {
	APIID       int32         `mapstructure:"api_id"`
	APIHash     string        `mapstructure:"api_hash"`
	BotTokenEnv string        `mapstructure:"bot_token_env"`
	ChannelID   int64         `mapstructure:"channel_id"`
	DatabaseDir string        `mapstructure:"database_dir"`
	FilesDir    string        `mapstructure:"files_dir"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	SendSlots   int           `mapstructure:"send_slots"`

	// Resolved at load time.
	BotToken string `mapstructure:"-"`
}

// WatchdogConfig tunes the send watchdog deadlines.
type WatchdogConfig struct {
	Base     time.Duration `mapstructure:"base"`
	Per100MB time.Duration `mapstructure:"per_100mb"`
	Max      time.Duration `mapstructure:"max"`
	Idle     time.Duration `mapstructure:"idle"`
}

// UploadConfig represents chunked upload session configuration.
type UploadConfig struct {
	Dir             string        `mapstructure:"dir"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RedisConfig represents Redis configuration.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig represents inbound rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	Provider          string      `mapstructure:"provider"` // "redis" or "memory"
	RequestsPerMinute int         `mapstructure:"requests_per_minute"`
	Burst             int         `mapstructure:"burst"`
	Redis             RedisConfig `mapstructure:"redis"`
}

// EvictionConfig represents the protocol-client storage eviction schedule.
type EvictionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	StartupGrace time.Duration `mapstructure:"startup_grace"`
	Interval     time.Duration `mapstructure:"interval"`
	MaxSize      int64         `mapstructure:"max_size"`
	TTL          time.Duration `mapstructure:"ttl"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig represents the distributed tracing configuration.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
	ExporterType string  `mapstructure:"exporter_type"` // "otlp" or "stdout"
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
}
