// Package config provides configuration loading for the alert engine.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the engine service
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Reasoning    ReasoningConfig    `mapstructure:"reasoning"`
	Preload      PreloadConfig      `mapstructure:"preload"`
	Contacts     ContactsConfig     `mapstructure:"contacts"`
	Notification NotificationConfig `mapstructure:"notification"`
	Policy       PolicyConfig       `mapstructure:"policy"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a PostgreSQL connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis configuration for the notification throttle gate
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
	PoolSize int    `mapstructure:"pool_size"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// ReasoningConfig holds external reasoning service settings
type ReasoningConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
}

// PreloadConfig holds the context preloader collaborator endpoint
type PreloadConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ContactsConfig holds the contact resolution collaborator endpoint
type ContactsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NotificationConfig holds notification dispatch settings
type NotificationConfig struct {
	ThrottleWindow  time.Duration `mapstructure:"throttle_window"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ProviderURL     string        `mapstructure:"provider_url"`
	ProviderToken   string        `mapstructure:"provider_token"`
	WebhookURL      string        `mapstructure:"webhook_url"`
	SMTP            SMTPConfig    `mapstructure:"smtp"`
}

// SMTPConfig holds email delivery settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// PolicyConfig holds alert lifecycle policy constants
type PolicyConfig struct {
	MaxInvestigations int  `mapstructure:"max_investigations"`
	MinCheckMinutes   int  `mapstructure:"min_check_minutes"`
	MaxCheckMinutes   int  `mapstructure:"max_check_minutes"`
	ReopenOnDuplicate bool `mapstructure:"reopen_on_duplicate"`
	ScheduleRetries   int  `mapstructure:"schedule_retries"`
}

// ArchiveConfig holds OpenSearch audit archive settings
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
	Index    string `mapstructure:"index"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "fleetsentry")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "fleetsentry_engine")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("reasoning.api_url", "http://localhost:11434/v1")
	v.SetDefault("reasoning.api_key", "")
	v.SetDefault("reasoning.model", "")
	v.SetDefault("reasoning.stage_timeout", "45s")

	v.SetDefault("preload.base_url", "http://context-preloader:8080")
	v.SetDefault("preload.timeout", "10s")

	v.SetDefault("contacts.base_url", "http://contacts:8080")
	v.SetDefault("contacts.timeout", "10s")

	v.SetDefault("notification.throttle_window", "30m")
	v.SetDefault("notification.dispatch_timeout", "15s")
	v.SetDefault("notification.max_retries", 2)
	v.SetDefault("notification.retry_backoff", "2s")
	v.SetDefault("notification.provider_url", "")
	v.SetDefault("notification.provider_token", "")
	v.SetDefault("notification.webhook_url", "")
	v.SetDefault("notification.smtp.host", "localhost")
	v.SetDefault("notification.smtp.port", "587")
	v.SetDefault("notification.smtp.user", "")
	v.SetDefault("notification.smtp.password", "")
	v.SetDefault("notification.smtp.from", "alerts@fleetsentry.local")
	v.SetDefault("notification.smtp.from_name", "FleetSentry Alerts")

	v.SetDefault("policy.max_investigations", 5)
	v.SetDefault("policy.min_check_minutes", 5)
	v.SetDefault("policy.max_check_minutes", 240)
	v.SetDefault("policy.reopen_on_duplicate", false)
	v.SetDefault("policy.schedule_retries", 3)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.url", "https://localhost:9200")
	v.SetDefault("archive.username", "admin")
	v.SetDefault("archive.password", "")
	v.SetDefault("archive.insecure", true)
	v.SetDefault("archive.index", "fleetsentry-alerts")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fleetsentry/engine")
	}

	// Environment variables override (ENGINE_SERVER_PORT, etc.)
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config - ignore file not found for defaults
	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Policy.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (p PolicyConfig) validate() error {
	if p.MaxInvestigations < 1 {
		return fmt.Errorf("policy.max_investigations must be at least 1, got %d", p.MaxInvestigations)
	}
	if p.MinCheckMinutes < 1 || p.MaxCheckMinutes < p.MinCheckMinutes {
		return fmt.Errorf("policy check minutes range invalid: min=%d max=%d", p.MinCheckMinutes, p.MaxCheckMinutes)
	}
	return nil
}

// ClampCheckMinutes bounds an assessment-provided revalidation delay to the
// policy window.
func (p PolicyConfig) ClampCheckMinutes(minutes int) int {
	if minutes < p.MinCheckMinutes {
		return p.MinCheckMinutes
	}
	if minutes > p.MaxCheckMinutes {
		return p.MaxCheckMinutes
	}
	return minutes
}
