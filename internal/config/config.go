package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Slack      SlackConfig      `mapstructure:"slack"`
	Debounce   DebounceConfig   `mapstructure:"debounce"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	NodeID     int64            `mapstructure:"node_id"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// RedisConfig holds the shared key-value store configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SlackConfig holds webhook verification settings
type SlackConfig struct {
	SigningSecret  string `mapstructure:"signing_secret"`
	BypassVerify   bool   `mapstructure:"bypass_verify"`
	MaxSkewSeconds int    `mapstructure:"max_skew_seconds"`
	Environment    string `mapstructure:"environment"`
}

// DebounceConfig holds batching settings
type DebounceConfig struct {
	WindowSeconds int           `mapstructure:"window_seconds"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	Store         string        `mapstructure:"store"`
}

// ClassifierConfig holds the language model settings
type ClassifierConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ConfidenceMin float64       `mapstructure:"confidence_min"`
	Timezone      string        `mapstructure:"timezone"`
}

// QueueConfig holds durable queue settings
type QueueConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	DrainIntervalSeconds int    `mapstructure:"drain_interval_seconds"`
	SweepSchedule        string `mapstructure:"sweep_schedule"`
}

// RetentionConfig holds cleanup horizons
type RetentionConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DedupHorizon     time.Duration `mapstructure:"dedup_horizon"`
	ProcessedHorizon time.Duration `mapstructure:"processed_horizon"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Slack.SigningSecret = strings.TrimSpace(config.Slack.SigningSecret)
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "slack-intake.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("slack.bypass_verify", false)
	v.SetDefault("slack.max_skew_seconds", 300)
	v.SetDefault("slack.environment", "production")

	v.SetDefault("debounce.window_seconds", 300)
	v.SetDefault("debounce.tick_interval", "1s")
	v.SetDefault("debounce.store", "memory")

	v.SetDefault("classifier.enabled", true)
	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.timeout", "30s")
	v.SetDefault("classifier.confidence_min", 0.6)
	v.SetDefault("classifier.timezone", "America/Toronto")

	v.SetDefault("queue.batch_size", 5)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.lock_timeout", "2m")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.drain_interval_seconds", 60)
	v.SetDefault("scheduler.sweep_schedule", "0 0 * * * *")

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.dedup_horizon", "24h")
	v.SetDefault("retention.processed_horizon", "168h")

	v.SetDefault("node_id", 1)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT", "PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.path", "DB_PATH")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// Slack
	v.BindEnv("slack.signing_secret", "SLACK_SIGNING_SECRET")
	v.BindEnv("slack.bypass_verify", "SLACK_BYPASS_VERIFY")
	v.BindEnv("slack.max_skew_seconds", "SLACK_MAX_SKEW_SECONDS")
	v.BindEnv("slack.environment", "NODE_ENV", "APP_ENV")

	// Debounce
	v.BindEnv("debounce.window_seconds", "DEBOUNCE_WINDOW_SECONDS")
	v.BindEnv("debounce.tick_interval", "DEBOUNCE_TICK_INTERVAL")
	v.BindEnv("debounce.store", "DEBOUNCE_STORE")

	// Classifier
	v.BindEnv("classifier.enabled", "USE_LLM_CLASSIFIER")
	v.BindEnv("classifier.api_key", "OPENAI_API_KEY")
	v.BindEnv("classifier.base_url", "OPENAI_BASE_URL")
	v.BindEnv("classifier.model", "LLM_MODEL")
	v.BindEnv("classifier.timeout", "LLM_TIMEOUT")
	v.BindEnv("classifier.confidence_min", "LLM_CONFIDENCE_MIN")
	v.BindEnv("classifier.timezone", "LLM_TIMEZONE")

	// Queue
	v.BindEnv("queue.batch_size", "QUEUE_BATCH_SIZE")
	v.BindEnv("queue.max_retries", "QUEUE_MAX_RETRIES")
	v.BindEnv("queue.lock_timeout", "QUEUE_LOCK_TIMEOUT")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.drain_interval_seconds", "SCHEDULER_DRAIN_INTERVAL_SECONDS")
	v.BindEnv("scheduler.sweep_schedule", "SCHEDULER_SWEEP_SCHEDULE")

	// Retention
	v.BindEnv("retention.enabled", "RETENTION_ENABLED")
	v.BindEnv("retention.dedup_horizon", "RETENTION_DEDUP_HORIZON")
	v.BindEnv("retention.processed_horizon", "RETENTION_PROCESSED_HORIZON")

	v.BindEnv("node_id", "NODE_ID")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	case "sqlite":
		return c.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Window returns the debounce window as a duration
func (c *DebounceConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// MaxSkew returns the accepted timestamp skew as a duration
func (c *SlackConfig) MaxSkew() time.Duration {
	return time.Duration(c.MaxSkewSeconds) * time.Second
}

// DrainInterval returns the drain cadence as a duration
func (c *SchedulerConfig) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSeconds) * time.Second
}

// IsProduction reports whether the service runs in a production environment
func (c *SlackConfig) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Slack.BypassVerify {
		if c.Slack.IsProduction() {
			return fmt.Errorf("signature verification bypass is not allowed in production")
		}
	} else if c.Slack.SigningSecret == "" {
		return fmt.Errorf("slack signing secret is required")
	}
	if c.Slack.MaxSkewSeconds <= 0 {
		return fmt.Errorf("slack max skew must be positive")
	}

	if c.Debounce.WindowSeconds < 0 {
		return fmt.Errorf("debounce window must not be negative")
	}
	if c.Debounce.TickInterval <= 0 {
		return fmt.Errorf("debounce tick interval must be positive")
	}
	switch c.Debounce.Store {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("redis debounce store requires redis.enabled")
		}
	default:
		return fmt.Errorf("unsupported debounce store %q", c.Debounce.Store)
	}

	if c.Classifier.Enabled {
		if c.Classifier.APIKey == "" {
			return fmt.Errorf("classifier api key is required when the classifier is enabled")
		}
		if _, err := url.ParseRequestURI(c.Classifier.BaseURL); err != nil {
			return fmt.Errorf("invalid classifier base url: %w", err)
		}
	}
	if c.Classifier.ConfidenceMin < 0 || c.Classifier.ConfidenceMin > 1 {
		return fmt.Errorf("classifier confidence threshold must be within [0,1]")
	}

	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue batch size must be positive")
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue retry ceiling must be at least 1")
	}
	if c.Queue.LockTimeout <= 0 {
		return fmt.Errorf("queue lock timeout must be positive")
	}
	// one classification must fit inside a claim with room to record it
	if c.Classifier.Enabled && c.Queue.LockTimeout <= c.Classifier.Timeout {
		return fmt.Errorf("queue lock timeout must exceed the classifier timeout")
	}

	if c.Scheduler.Enabled && c.Scheduler.DrainIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler drain interval must be positive")
	}

	// Slack redelivers for up to about an hour. The horizon is also the key
	// expiry of the redis dedup store, which is used whenever redis is on.
	if (c.Retention.Enabled || c.Redis.Enabled) && c.Retention.DedupHorizon < time.Hour {
		return fmt.Errorf("dedup retention horizon must be at least 1h")
	}

	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node id must be within [0,1023]")
	}

	return nil
}
