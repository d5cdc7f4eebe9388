// Package config loads process configuration from an optional config.toml,
// PHARMA_* environment variables and built-in defaults, in that order of
// increasing precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pharmapos/internal/core/numerator"
	"pharmapos/internal/core/retry"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/storage/postgres"
	"pharmapos/pkg/logger"
)

// EnvPrefix is prepended to every environment override, e.g. PHARMA_DATABASE_URL.
const EnvPrefix = "PHARMA"

type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	Returns     ReturnsConfig
	Idempotency IdempotencyConfig
}

type AppConfig struct {
	Name            string
	Env             string
	Port            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the postgres store. An empty URL runs the server
// against the in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig enables the inventory name cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	NameTTL  time.Duration
}

type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
}

type LogConfig struct {
	Level string
}

type ReturnsConfig struct {
	MinReasonLength  int
	StoreTimeout     time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	SequenceAttempts int
	SequencePadWidth int
	AuditCompressAt  int
	// AuditRetention is how long commit audit rows are kept. Zero keeps them forever.
	AuditRetention time.Duration
}

type IdempotencyConfig struct {
	Enabled         bool
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Load reads configuration. A missing config file is not an error.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pharmapos")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name:            v.GetString("app.name"),
			Env:             v.GetString("app.env"),
			Port:            v.GetString("app.port"),
			ShutdownTimeout: v.GetDuration("app.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxConns:        v.GetInt32("database.max_conns"),
			MinConns:        v.GetInt32("database.min_conns"),
			MaxConnLifetime: v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime: v.GetDuration("database.max_conn_idle_time"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			NameTTL:  v.GetDuration("redis.name_ttl"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("jwt.secret"),
			Issuer:         v.GetString("jwt.issuer"),
			AccessTokenTTL: v.GetDuration("jwt.access_token_ttl"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Returns: ReturnsConfig{
			MinReasonLength:  v.GetInt("returns.min_reason_length"),
			StoreTimeout:     v.GetDuration("returns.store_timeout"),
			RetryAttempts:    v.GetInt("returns.retry_attempts"),
			RetryBaseDelay:   v.GetDuration("returns.retry_base_delay"),
			RetryMaxDelay:    v.GetDuration("returns.retry_max_delay"),
			SequenceAttempts: v.GetInt("returns.sequence_attempts"),
			SequencePadWidth: v.GetInt("returns.sequence_pad_width"),
			AuditCompressAt:  v.GetInt("returns.audit_compress_at"),
			AuditRetention:   v.GetDuration("returns.audit_retention"),
		},
		Idempotency: IdempotencyConfig{
			Enabled:         v.GetBool("idempotency.enabled"),
			TTL:             v.GetDuration("idempotency.ttl"),
			CleanupInterval: v.GetDuration("idempotency.cleanup_interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pharmapos")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.name_ttl", 10*time.Minute)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "pharmapos")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)

	v.SetDefault("log.level", "info")

	v.SetDefault("returns.min_reason_length", returns.DefaultMinReasonLength)
	v.SetDefault("returns.store_timeout", 5*time.Second)
	v.SetDefault("returns.retry_attempts", 3)
	v.SetDefault("returns.retry_base_delay", 50*time.Millisecond)
	v.SetDefault("returns.retry_max_delay", time.Second)
	v.SetDefault("returns.sequence_attempts", 3)
	v.SetDefault("returns.sequence_pad_width", 5)
	v.SetDefault("returns.audit_compress_at", postgres.DefaultCompressThreshold)
	v.SetDefault("returns.audit_retention", 90*24*time.Hour)

	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.cleanup_interval", 10*time.Minute)
}

func (c *Config) validate() error {
	if c.IsProduction() && c.JWT.Secret == "" {
		return errors.New("jwt.secret is required in production")
	}
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return errors.New("jwt.secret must be at least 32 characters")
	}
	if c.Returns.MinReasonLength < 0 {
		return fmt.Errorf("returns.min_reason_length must not be negative, got %d", c.Returns.MinReasonLength)
	}
	if c.Returns.RetryAttempts < 1 {
		return fmt.Errorf("returns.retry_attempts must be at least 1, got %d", c.Returns.RetryAttempts)
	}
	if c.Returns.SequenceAttempts < 1 {
		return fmt.Errorf("returns.sequence_attempts must be at least 1, got %d", c.Returns.SequenceAttempts)
	}
	if c.Returns.AuditRetention < 0 {
		return errors.New("returns.audit_retention must not be negative")
	}
	if c.Idempotency.Enabled && c.Idempotency.TTL <= 0 {
		return errors.New("idempotency.ttl must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// UsesPostgres reports whether a database URL was configured.
func (c *Config) UsesPostgres() bool {
	return c.Database.URL != ""
}

// LoggerConfig maps log settings onto pkg/logger.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Development: c.App.Env == "development",
		Service:     c.App.Name,
		Env:         c.App.Env,
	}
}

// PoolConfig maps database settings onto the postgres pool.
func (c *Config) PoolConfig() postgres.PoolConfig {
	pc := postgres.DefaultPoolConfig(c.Database.URL)
	pc.MaxConns = c.Database.MaxConns
	pc.MinConns = c.Database.MinConns
	pc.MaxConnLifetime = c.Database.MaxConnLifetime
	pc.MaxConnIdleTime = c.Database.MaxConnIdleTime
	pc.ApplicationName = c.App.Name
	// Statements must not outlive one store attempt.
	if c.Returns.StoreTimeout > 0 {
		pc.StatementTimeout = c.Returns.StoreTimeout
	}
	return pc
}

// CommitterOptions maps returns settings onto the engine.
func (c *Config) CommitterOptions() returns.CommitterOptions {
	opts := returns.DefaultCommitterOptions()
	opts.MinReasonLength = c.Returns.MinReasonLength
	opts.Retry = retry.Policy{
		Attempts:  c.Returns.RetryAttempts,
		Timeout:   c.Returns.StoreTimeout,
		BaseDelay: c.Returns.RetryBaseDelay,
		MaxDelay:  c.Returns.RetryMaxDelay,
	}
	opts.Numbering = c.NumberingConfig(returns.ReturnNumberPrefix)
	return opts
}

// NumberingConfig is the allocator configuration for a prefix.
func (c *Config) NumberingConfig(prefix string) numerator.Config {
	nc := numerator.DefaultConfig(prefix)
	nc.MaxAttempts = c.Returns.SequenceAttempts
	nc.PadWidth = c.Returns.SequencePadWidth
	return nc
}
