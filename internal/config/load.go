package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables (prefix CONV_, nested keys joined
// with underscores, e.g. CONV_SERVER_PORT) take precedence over values
// from the config file. Returns a populated Config struct or an error if
// loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./conf")

	v.SetEnvPrefix("CONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment variables may cover everything.
	}

	// AutomaticEnv does not register nested keys on its own, so bind the
	// ones we read explicitly.
	for _, key := range []string{
		"server.port", "server.log_level",
		"redis.url",
		"auth.api_keys",
		"gateway.port", "gateway.allowed_origins", "gateway.keepalive_interval",
		"worker.dequeue_timeout", "worker.metrics_addr", "worker.captcha_timeout",
		"mirror.path", "mirror.url", "mirror.secret", "mirror.key_count", "mirror.allowed_exts",
		"cleanup.result_lifetime", "cleanup.task_lifetime",
		"webhook.allow_loopback", "webhook.timeout",
		"database.url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("gateway.port", 8085)
	v.SetDefault("gateway.keepalive_interval", 5*time.Second)
	v.SetDefault("worker.dequeue_timeout", 5*time.Second)
	v.SetDefault("worker.captcha_timeout", 30*time.Second)
	v.SetDefault("cleanup.result_lifetime", 10*time.Minute)
	v.SetDefault("cleanup.task_lifetime", 24*time.Hour)
	v.SetDefault("webhook.timeout", 15*time.Second)
	v.SetDefault("mirror.key_count", 1)
	v.SetDefault("mirror.allowed_exts", []string{"vp", "7z", "zip", "png", "jpg"})
}
