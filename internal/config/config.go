// Package config provides configuration management for the broker.
//
// Configuration is loaded from multiple sources in this order:
// 1. Configuration files (YAML)
// 2. Environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Queue       QueueConfig    `mapstructure:"queue"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Security    SecurityConfig `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration for the (out-of-core)
// management surface that binds the broker's API.
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig contains the substrate (Redis) connection configuration.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// QueueConfig contains broker-domain configuration: stream layout, retry
// policy, and priority-band shape. These map directly onto the "Process
// configuration" options in the broker specification.
type QueueConfig struct {
	QueueName              string        `mapstructure:"queue_name"`
	MaxPriorityLevels      int           `mapstructure:"max_priority_levels"`
	AckTimeoutSeconds      int           `mapstructure:"ack_timeout_seconds"`
	MaxAttempts            int           `mapstructure:"max_attempts"`
	BatchSize              int           `mapstructure:"batch_size"`
	MaxAcknowledgedHistory int64         `mapstructure:"max_acknowledged_history"`
	EventsChannel          string        `mapstructure:"events_channel"`
	ConsumerGroupName      string        `mapstructure:"consumer_group_name"`
	ConsumerName           string        `mapstructure:"consumer_name"`
	ReclaimInterval        time.Duration `mapstructure:"reclaim_interval"`
	ReclaimLeaseTTL        time.Duration `mapstructure:"reclaim_lease_ttl"`
}

// SecurityConfig controls the optional HMAC envelope applied by the codec.
type SecurityConfig struct {
	SecretKey               string `mapstructure:"secret_key"`
	EnableMessageEncryption bool   `mapstructure:"enable_message_encryption"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Validate validates the main configuration and all sub-configurations.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config validation failed: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config validation failed: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security config validation failed: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", sc.Port)
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	return nil
}

// Validate validates redis configuration.
func (rc *RedisConfig) Validate() error {
	if rc.URL == "" && rc.Host == "" {
		return errors.New("either url or host must be provided")
	}
	if rc.PoolSize < 0 {
		return errors.New("pool_size cannot be negative")
	}
	return nil
}

// Validate validates queue configuration.
func (qc *QueueConfig) Validate() error {
	if qc.QueueName == "" {
		return errors.New("queue_name cannot be empty")
	}
	if qc.MaxPriorityLevels < 1 {
		return errors.New("max_priority_levels must be >= 1")
	}
	if qc.AckTimeoutSeconds <= 0 {
		return errors.New("ack_timeout_seconds must be positive")
	}
	if qc.MaxAttempts <= 0 {
		return errors.New("max_attempts must be positive")
	}
	if qc.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	if qc.MaxAcknowledgedHistory <= 0 {
		return errors.New("max_acknowledged_history must be positive")
	}
	if qc.EventsChannel == "" {
		return errors.New("events_channel cannot be empty")
	}
	if qc.ConsumerGroupName == "" {
		return errors.New("consumer_group_name cannot be empty")
	}
	return nil
}

// Validate validates logging configuration.
func (lc *LoggingConfig) Validate() error {
	switch strings.ToLower(lc.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	return nil
}

// Validate validates the HMAC envelope configuration.
func (sec *SecurityConfig) Validate() error {
	if sec.EnableMessageEncryption && sec.SecretKey == "" {
		return errors.New("secret_key is required when enable_message_encryption is true")
	}
	return nil
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	// Load .env file if present (optional, for local development).
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/streamq")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with defaults and env vars.
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//nolint:errcheck // BindEnv only errors on invalid args, safe with string literals
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.host", "HOST")
	viper.BindEnv("server.cors_allowed_origins", "CORS_ALLOWED_ORIGINS")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")
	viper.BindEnv("queue.queue_name", "QUEUE_NAME")
	viper.BindEnv("queue.max_priority_levels", "MAX_PRIORITY_LEVELS")
	viper.BindEnv("queue.ack_timeout_seconds", "ACK_TIMEOUT_SECONDS")
	viper.BindEnv("queue.max_attempts", "MAX_ATTEMPTS")
	viper.BindEnv("queue.batch_size", "BATCH_SIZE")
	viper.BindEnv("queue.max_acknowledged_history", "MAX_ACKNOWLEDGED_HISTORY")
	viper.BindEnv("queue.events_channel", "EVENTS_CHANNEL")
	viper.BindEnv("queue.consumer_group_name", "CONSUMER_GROUP_NAME")
	viper.BindEnv("queue.consumer_name", "CONSUMER_NAME")
	viper.BindEnv("security.secret_key", "SECRET_KEY")
	viper.BindEnv("security.enable_message_encryption", "ENABLE_MESSAGE_ENCRYPTION")

	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Queue.ConsumerName == "" {
		cfg.Queue.ConsumerName = defaultConsumerName()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("consumer-%s-%d", host, os.Getpid())
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_allowed_origins", []string{"*"})
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.shutdown_timeout", 15*time.Second)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", 5*time.Second)
	viper.SetDefault("redis.max_retries", 3)

	viper.SetDefault("queue.queue_name", "jobs")
	viper.SetDefault("queue.max_priority_levels", 10)
	viper.SetDefault("queue.ack_timeout_seconds", 30)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.batch_size", 50)
	viper.SetDefault("queue.max_acknowledged_history", 1000)
	viper.SetDefault("queue.events_channel", "queue:events")
	viper.SetDefault("queue.consumer_group_name", "queue-workers")
	viper.SetDefault("queue.reclaim_interval", 10*time.Second)
	viper.SetDefault("queue.reclaim_lease_ttl", 30*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("security.enable_message_encryption", false)
}
