package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
// A Config is loaded once at startup and passed by value or pointer to the
// constructors that need it; nothing mutates it afterwards.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"  validate:"required"`
	Redis   RedisConfig   `mapstructure:"redis"   validate:"required"`
	Auth    AuthConfig    `mapstructure:"auth"    validate:"required"`
	Task    TaskConfig    `mapstructure:"task"    validate:"required"`
	Session SessionConfig `mapstructure:"session" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"                     validate:"required,gt=0,lt=65536"`
	LogLevel               string   `mapstructure:"log_level"                validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`
}

// ShutdownTimeout returns the graceful shutdown window as a duration.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Bus modes.
const (
	BusModeRedis  = "redis"
	BusModeMemory = "memory"
)

// RedisConfig contains the broker connection and channel namespace.
type RedisConfig struct {
	// URL takes precedence over Host/Port/Password/DB when set.
	URL            string `mapstructure:"url"             validate:"omitempty,url"`
	Host           string `mapstructure:"host"            validate:"required_without=URL"`
	Port           int    `mapstructure:"port"            validate:"gt=0,lt=65536"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"              validate:"gte=0"`
	TasksChannel   string `mapstructure:"tasks_channel"   validate:"required"`
	ResultsChannel string `mapstructure:"results_channel" validate:"required,nefield=TasksChannel"`
	Mode           string `mapstructure:"mode"            validate:"required,oneof=redis memory"`
}

// Auth modes.
const (
	AuthModeStrict     = "strict"
	AuthModePermissive = "permissive"
)

// AuthConfig contains all authentication and authorization settings.
// JWTSecret may be empty for roles that never verify tokens; the JWT
// service rejects an empty secret when it is built.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"omitempty,min=32"`
	Mode                 string `mapstructure:"mode"                   validate:"required,oneof=strict permissive"`
	AnonymousIdentity    string `mapstructure:"anonymous_identity"     validate:"required"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// TaskConfig sizes the worker pool.
type TaskConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize   int `mapstructure:"queue_size"   validate:"gt=0"`
}

// SessionConfig tunes the per-session listener and transport.
type SessionConfig struct {
	PollWaitMS          int `mapstructure:"poll_wait_ms"          validate:"gt=0"`
	RetryBackoffMS      int `mapstructure:"retry_backoff_ms"      validate:"gt=0"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds" validate:"gt=0"`
	PongTimeoutSeconds  int `mapstructure:"pong_timeout_seconds"  validate:"gt=0"`
}

// PollWait is the longest a listener blocks on a single receive.
func (c SessionConfig) PollWait() time.Duration {
	return time.Duration(c.PollWaitMS) * time.Millisecond
}

// RetryBackoff is the pause after a transport error in the listen loop.
func (c SessionConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// WriteTimeout bounds a single write to a client connection.
func (c SessionConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// PongTimeout is how long a connection may stay silent before it is dropped.
func (c SessionConfig) PongTimeout() time.Duration {
	return time.Duration(c.PongTimeoutSeconds) * time.Second
}
