package config

import (
	"fmt"
	"time"

	"github.com/kart-io/smsforward/pkg/logger"
)

// WithLogLevel sets the log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		if _, err := logger.ParseLevel(level); err != nil {
			return err
		}
		c.Log.Level = level
		return nil
	}
}

// WithLogFormat selects "json" or "text" output.
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		if format != "json" && format != "text" {
			return fmt.Errorf("unknown log format %q", format)
		}
		c.Log.Format = format
		return nil
	}
}

// WithMaxAttempts sets the maximum send attempts per message.
func WithMaxAttempts(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", n)
		}
		c.Engine.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the exponential retry backoff.
func WithBackoff(initial, max time.Duration, multiplier float64) Option {
	return func(c *Config) error {
		if initial < 0 || max < initial {
			return fmt.Errorf("invalid backoff bounds %s..%s", initial, max)
		}
		if multiplier < 1 {
			return fmt.Errorf("backoff multiplier must be >= 1, got %g", multiplier)
		}
		c.Engine.InitialBackoff = initial
		c.Engine.MaxBackoff = max
		c.Engine.BackoffMultiplier = multiplier
		return nil
	}
}

// WithAttemptTimeout bounds a single SMTP attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("attempt timeout must be positive, got %s", d)
		}
		c.Engine.AttemptTimeout = d
		return nil
	}
}

// WithWorkers sets the dispatcher pool size.
func WithWorkers(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("workers must be at least 1, got %d", n)
		}
		c.Engine.Workers = n
		return nil
	}
}

// WithTimezone sets the zone statistics are bucketed in.
func WithTimezone(name string) Option {
	return func(c *Config) error {
		if _, err := time.LoadLocation(name); err != nil {
			return fmt.Errorf("load timezone %q: %w", name, err)
		}
		c.Engine.Timezone = name
		return nil
	}
}

// WithPostgres enables PostgreSQL persistence.
func WithPostgres(dsn string) Option {
	return func(c *Config) error {
		c.Postgres.Enabled = dsn != ""
		c.Postgres.DSN = dsn
		return nil
	}
}

// WithRedis enables Redis for leases and device telemetry.
func WithRedis(addr string) Option {
	return func(c *Config) error {
		c.Redis.Enabled = addr != ""
		c.Redis.Addr = addr
		return nil
	}
}

// WithNATS enables the NATS message source.
func WithNATS(url, subject string) Option {
	return func(c *Config) error {
		c.NATS.Enabled = url != ""
		c.NATS.URL = url
		if subject != "" {
			c.NATS.Subject = subject
		}
		return nil
	}
}

// WithHTTPAddr sets the listen address of the HTTP API.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) error {
		c.HTTP.Addr = addr
		return nil
	}
}

// WithRetention sets the sweep schedule and maximum history age.
func WithRetention(schedule string, maxAge time.Duration) Option {
	return func(c *Config) error {
		c.Retention.Schedule = schedule
		c.Retention.MaxAge = maxAge
		return nil
	}
}

// WithTestDefaults applies test-friendly defaults
func WithTestDefaults() Option {
	return func(c *Config) error {
		c.Log.Level = "debug"
		c.Log.Format = "text"
		c.Engine.MaxAttempts = 1
		c.Engine.InitialBackoff = 0
		c.Engine.MaxBackoff = 0
		c.Engine.AttemptTimeout = 5 * time.Second
		c.Engine.Workers = 1
		return nil
	}
}

// Production configuration preset
func WithProductionDefaults() Option {
	return func(c *Config) error {
		c.Log.Level = "info"
		c.Log.Format = "json"
		c.Engine.MaxAttempts = 5
		c.Engine.AttemptTimeout = 60 * time.Second
		c.Engine.LeaseTTL = 10 * time.Minute
		c.Engine.Workers = 16
		return nil
	}
}
