package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "TASKRELAY"

// defaultConfigName is looked up in the working directory when no explicit
// config file is given.
const defaultConfigName = "taskrelay"

// keys without defaults still need to be known to viper so that
// AutomaticEnv picks them up during Unmarshal.
var boundKeys = []string{
	"redis.url",
	"redis.password",
	"auth.jwt_secret",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tasks_channel", "tasks_queue")
	v.SetDefault("redis.results_channel", "results_queue")
	v.SetDefault("redis.mode", BusModeRedis)

	v.SetDefault("auth.mode", AuthModeStrict)
	v.SetDefault("auth.anonymous_identity", "anonymous")
	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.queue_size", 100)

	v.SetDefault("session.poll_wait_ms", 1000)
	v.SetDefault("session.retry_backoff_ms", 500)
	v.SetDefault("session.write_timeout_seconds", 10)
	v.SetDefault("session.pong_timeout_seconds", 60)
}

// Load reads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence.
// If configPath is empty, a taskrelay.{yaml,json,toml} file in the working
// directory is used when present.
// Returns a populated, validated Config or an error if loading/validation fails.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range boundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
