// Package config loads and validates smsforward configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file, SMSFORWARD_* environment variables and functional options.
// Nested keys map to environment variables by replacing dots with
// underscores, so engine.max_attempts is read from SMSFORWARD_ENGINE_MAX_ATTEMPTS.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "SMSFORWARD"

// Config is the complete service configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Retention RetentionConfig `mapstructure:"retention"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Templates TemplateConfig  `mapstructure:"templates"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error silent"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// EngineConfig tunes message processing.
type EngineConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" validate:"min=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`
	BackoffJitter     float64       `mapstructure:"backoff_jitter" validate:"gte=0,lte=1"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	SampleTimeout     time.Duration `mapstructure:"sample_timeout" validate:"gt=0"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl" validate:"gt=0"`
	Workers           int           `mapstructure:"workers" validate:"min=1,max=256"`
	QueueSize         int           `mapstructure:"queue_size" validate:"min=1"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout" validate:"gt=0"`
	// Timezone names the IANA zone statistics days are bucketed in.
	// Empty means the host's local zone.
	Timezone string `mapstructure:"timezone" validate:"omitempty,timezone"`
}

// RetryCycle is the longest one message can hold its lease: sampling, every
// attempt timing out and every backoff at its jittered maximum.
func (e EngineConfig) RetryCycle() time.Duration {
	attempts := max(e.MaxAttempts, 1)
	total := e.SampleTimeout + e.AttemptTimeout*time.Duration(attempts)
	wait := float64(e.InitialBackoff)
	for i := 1; i < attempts; i++ {
		d := min(time.Duration(wait), e.MaxBackoff)
		total += time.Duration(float64(d) * (1 + e.BackoffJitter))
		wait *= e.BackoffMultiplier
	}
	return total
}

type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn" validate:"required_if=Enabled true"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"min=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"min=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// Intake enables the Redis list message source.
	Intake bool `mapstructure:"intake"`
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url" validate:"required_if=Enabled true"`
	Subject    string `mapstructure:"subject" validate:"required_if=Enabled true"`
	QueueGroup string `mapstructure:"queue_group"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// RetentionConfig schedules the sweep of old records, messages, statistics
// and expired leases. An empty Schedule disables it.
type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gt=0"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name" validate:"required"`
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" validate:"required_if=Enabled true"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRate   float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// TemplateConfig holds mustache templates for the forwarded email. Empty
// values use the built-in templates.
type TemplateConfig struct {
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

// SMTPConfig tunes the SMTP client shared by all destinations.
type SMTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateLimit       int           `mapstructure:"rate_limit" validate:"min=0"`
	RateBurst       int           `mapstructure:"rate_burst" validate:"min=0"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
}

// Option defines a functional option for configuration
type Option func(*Config) error

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// New creates a configuration from defaults and opts.
func New(opts ...Option) (*Config, error) {
	return build(viper.New(), "", opts)
}

// Load reads path (YAML, skipped when empty) and the environment on top of the
// defaults, then applies opts and validates the result.
func Load(path string, opts ...Option) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return build(v, path, opts)
}

func build(v *viper.Viper, path string, opts []Option) (*Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.initial_backoff", "1s")
	v.SetDefault("engine.max_backoff", "30s")
	v.SetDefault("engine.backoff_multiplier", 2.0)
	v.SetDefault("engine.backoff_jitter", 0.1)
	v.SetDefault("engine.attempt_timeout", "30s")
	v.SetDefault("engine.sample_timeout", "500ms")
	v.SetDefault("engine.lease_ttl", "5m")
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.drain_timeout", "30s")
	v.SetDefault("engine.timezone", "")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", "1h")
	v.SetDefault("postgres.max_conn_idle_time", "30m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "smsforward:")
	v.SetDefault("redis.intake", false)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "sms.inbound")
	v.SetDefault("nats.queue_group", "smsforward")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "15s")

	v.SetDefault("retention.schedule", "@daily")
	v.SetDefault("retention.max_age", "720h")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "smsforward")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("templates.subject", "")
	v.SetDefault("templates.body", "")

	v.SetDefault("smtp.timeout", "30s")
	v.SetDefault("smtp.rate_limit", 0)
	v.SetDefault("smtp.rate_burst", 0)
	v.SetDefault("smtp.rate_limit_window", "1m")
}

// Location resolves Engine.Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Engine.Timezone)
}
