package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
)

const (
	defaultHTTPPort          = 8080
	defaultMetricsPort       = 9090
	defaultReadTimeout       = 30
	defaultWriteTimeout      = 300 // Large downloads stream for a while
	defaultIdleTimeout       = 120
	defaultMaxUploadSize     = 4 << 30 // 4 GiB declared size cap
	defaultSendSlots         = 4
	defaultAuthTimeout       = 30 * time.Second
	defaultTokenTTL          = 15 * time.Minute
	defaultSessionTTL        = time.Hour
	defaultCleanupInterval   = 5 * time.Minute
	defaultRequestsPerMinute = 120
	defaultBurst             = 30
	defaultEvictionGrace     = 5 * time.Minute
	defaultEvictionInterval  = 6 * time.Hour
	defaultEvictionMaxSize   = 8 << 30 // 8 GiB local cache cap
	defaultEvictionTTL       = 6 * time.Hour

	defaultWatchdogBase     = 2 * time.Minute
	defaultWatchdogPer100MB = time.Minute
	defaultWatchdogMax      = 30 * time.Minute
	defaultWatchdogIdle     = 3 * time.Minute
)

// Load loads configuration from file, applies environment overrides, resolves
// secrets from the environment, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)

	v.SetEnvPrefix("CLOUDVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := loadSecrets(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultHTTPPort)
	v.SetDefault("server.metrics_port", defaultMetricsPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.max_upload_size", defaultMaxUploadSize)
}

func setRelayDefaults(v *viper.Viper) {
	v.SetDefault("relay.bot_token_env", "CLOUDVAULT_BOT_TOKEN")
	v.SetDefault("relay.database_dir", "/var/lib/cloudvault/tdlib/db")
	v.SetDefault("relay.files_dir", "/var/lib/cloudvault/tdlib/files")
	v.SetDefault("relay.auth_timeout", defaultAuthTimeout)
	v.SetDefault("relay.send_slots", defaultSendSlots)

	v.SetDefault("watchdog.base", defaultWatchdogBase)
	v.SetDefault("watchdog.per_100mb", defaultWatchdogPer100MB)
	v.SetDefault("watchdog.max", defaultWatchdogMax)
	v.SetDefault("watchdog.idle", defaultWatchdogIdle)
}

func setOperationalDefaults(v *viper.Viper) {
	v.SetDefault("auth.api_key_env", "CLOUDVAULT_API_KEY")
	v.SetDefault("auth.signing_secret_env", "CLOUDVAULT_SIGNING_SECRET")
	v.SetDefault("auth.token_ttl", defaultTokenTTL)

	v.SetDefault("uploads.dir", os.TempDir())
	v.SetDefault("uploads.session_ttl", defaultSessionTTL)
	v.SetDefault("uploads.cleanup_interval", defaultCleanupInterval)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.provider", "memory")
	v.SetDefault("rate_limit.requests_per_minute", defaultRequestsPerMinute)
	v.SetDefault("rate_limit.burst", defaultBurst)

	v.SetDefault("eviction.enabled", true)
	v.SetDefault("eviction.startup_grace", defaultEvictionGrace)
	v.SetDefault("eviction.interval", defaultEvictionInterval)
	v.SetDefault("eviction.max_size", defaultEvictionMaxSize)
	v.SetDefault("eviction.ttl", defaultEvictionTTL)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("tracing.service_name", "cloudvault")
	v.SetDefault("tracing.exporter_type", "stdout")
	v.SetDefault("tracing.sampler_ratio", 1.0)
}

func setDefaults(v *viper.Viper) {
	setServerDefaults(v)
	setRelayDefaults(v)
	setOperationalDefaults(v)
}

// loadSecrets resolves secret material from the environment variables named in
// the configuration. Secrets never live in the config file itself.
func loadSecrets(cfg *Config) error {
	cfg.Auth.APIKey = os.Getenv(cfg.Auth.APIKeyEnv)
	if cfg.Auth.APIKey == "" {
		return customerrors.NewConfigError("API key environment variable " + cfg.Auth.APIKeyEnv + " not set").
			WithComponent("config")
	}

	cfg.Auth.SigningSecret = os.Getenv(cfg.Auth.SigningSecretEnv)
	if cfg.Auth.SigningSecret == "" {
		return customerrors.NewConfigError("signing secret environment variable " + cfg.Auth.SigningSecretEnv + " not set").
			WithComponent("config")
	}

	cfg.Relay.BotToken = os.Getenv(cfg.Relay.BotTokenEnv)
	if cfg.Relay.BotToken == "" {
		return customerrors.NewConfigError("bot token environment variable " + cfg.Relay.BotTokenEnv + " not set").
			WithComponent("config")
	}

	return nil
}

func validate(cfg *Config) error {
	if err := validatePort("server.port", cfg.Server.Port); err != nil {
		return err
	}

	if err := validatePort("server.metrics_port", cfg.Server.MetricsPort); err != nil {
		return err
	}

	if cfg.Relay.APIID == 0 || cfg.Relay.APIHash == "" {
		return customerrors.NewConfigError("relay.api_id and relay.api_hash are required").
			WithComponent("config")
	}

	if cfg.Relay.ChannelID == 0 {
		return customerrors.NewConfigError("relay.channel_id is required").
			WithComponent("config")
	}

	if cfg.Relay.SendSlots <= 0 {
		return customerrors.NewConfigError("relay.send_slots must be positive").
			WithComponent("config")
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.Provider != "memory" && cfg.RateLimit.Provider != "redis" {
		return customerrors.NewConfigError("unsupported rate_limit.provider: " + cfg.RateLimit.Provider).
			WithComponent("config")
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.Provider == "redis" && cfg.RateLimit.Redis.URL == "" {
		return customerrors.NewConfigError("rate_limit.redis.url is required for the redis provider").
			WithComponent("config")
	}

	if cfg.Uploads.SessionTTL <= 0 {
		return customerrors.NewConfigError("uploads.session_ttl must be positive").
			WithComponent("config")
	}

	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return customerrors.NewConfigError(fmt.Sprintf("invalid %s: %d", name, port)).
			WithComponent("config")
	}

	return nil
}
