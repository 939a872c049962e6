package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"    validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Gateway  GatewayConfig  `mapstructure:"gateway"  validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"  validate:"required"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig contains the HTTP API tier settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// RedisConfig locates the shared broker. The broker is the sole
// cross-process coordination point; an unreachable broker is fatal.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required,uri"`
}

// AuthConfig holds the shared-secret API key list accepted by the
// submission endpoint.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys" validate:"required,min=1,dive,min=8"`
}

// GatewayConfig contains the websocket gateway settings.
// An empty AllowedOrigins list makes the origin check permissive;
// otherwise only exact matches are accepted.
type GatewayConfig struct {
	Port              int           `mapstructure:"port"               validate:"required,gt=0,lt=65536"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" validate:"required"`
}

// WorkerConfig contains worker process settings.
type WorkerConfig struct {
	// DequeueTimeout bounds each blocking queue pop so the worker can
	// notice a shutdown request while idle.
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables the metrics server.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// CaptchaTimeout bounds how long a task waits for a captcha response.
	CaptchaTimeout time.Duration `mapstructure:"captcha_timeout"`
}

// MirrorConfig configures the upload/mirror sub-API. When Path is empty
// the converter skips mirroring and the upload endpoint is not mounted.
type MirrorConfig struct {
	Path        string   `mapstructure:"path"`
	URL         string   `mapstructure:"url"          validate:"omitempty,url"`
	Secret      string   `mapstructure:"secret"       validate:"required_with=Path,omitempty,min=16"`
	KeyCount    int      `mapstructure:"key_count"`
	AllowedExts []string `mapstructure:"allowed_exts"`
}

// CleanupConfig holds the sweeper's expiry policy.
type CleanupConfig struct {
	// ResultLifetime is how long a DONE status (and its result) is kept
	// after its last update.
	ResultLifetime time.Duration `mapstructure:"result_lifetime" validate:"required"`

	// TaskLifetime is how long a non-DONE status may exist before it is
	// force-expired as abandoned.
	TaskLifetime time.Duration `mapstructure:"task_lifetime" validate:"required"`
}

// WebhookConfig controls completion webhooks.
type WebhookConfig struct {
	// AllowLoopback disables the loopback SSRF guard. Only meant for
	// local development.
	AllowLoopback bool `mapstructure:"allow_loopback"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig locates the optional relational store for request
// records. An empty URL disables it; the broker then holds all state.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,uri"`
}
