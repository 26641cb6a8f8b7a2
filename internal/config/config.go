package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// QueueConfig selects and configures the processing queue
type QueueConfig struct {
	Driver            string        `mapstructure:"driver"`
	URL               string        `mapstructure:"url"`
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	WaitSeconds       int           `mapstructure:"wait_seconds"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// StorageConfig selects where artifact bytes are read from
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	Root     string `mapstructure:"root"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// ExtractorConfig configures the document extraction capability
type ExtractorConfig struct {
	Driver  string        `mapstructure:"driver"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Concurrency int           `mapstructure:"concurrency"`
	BatchSize   int           `mapstructure:"batch_size"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	Jitter      bool          `mapstructure:"jitter"`
}

// ScannerConfig holds compliance scanner configuration
type ScannerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Schedule          string `mapstructure:"schedule"`
	IntervalSeconds   int    `mapstructure:"interval_seconds"`
	WarningWindowDays int    `mapstructure:"warning_window_days"`
	Timezone          string `mapstructure:"timezone"`
	Limit             int    `mapstructure:"limit"`
}

// NotifierConfig holds alert email configuration
type NotifierConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RefreshToken string   `mapstructure:"refresh_token"`
	UserEmail    string   `mapstructure:"user_email"`
	Recipients   []string `mapstructure:"recipients"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from environment variables and an optional config file.
// An empty path searches for config.yaml in . and ./config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.dbname", "tradecomply")
	v.SetDefault("database.path", "tradecomply.db")

	v.SetDefault("queue.driver", "database")
	v.SetDefault("queue.region", "ap-southeast-2")
	v.SetDefault("queue.visibility_timeout", "60s")
	v.SetDefault("queue.wait_seconds", 20)
	v.SetDefault("queue.poll_interval", "500ms")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.root", "uploads")
	v.SetDefault("storage.region", "ap-southeast-2")
	v.SetDefault("storage.max_bytes", 20<<20)

	v.SetDefault("extractor.driver", "gemini")
	v.SetDefault("extractor.model", "gemini-2.5-flash")
	v.SetDefault("extractor.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("extractor.timeout", "60s")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.batch_size", 1)
	v.SetDefault("worker.backoff_base", "1s")
	v.SetDefault("worker.backoff_max", "30s")
	v.SetDefault("worker.jitter", true)

	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.schedule", "0 0 9 * * *")
	v.SetDefault("scanner.warning_window_days", 90)
	v.SetDefault("scanner.timezone", "UTC")
	v.SetDefault("scanner.limit", 0)

	v.SetDefault("notifier.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT", "PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Queue
	v.BindEnv("queue.driver", "QUEUE_DRIVER")
	v.BindEnv("queue.url", "QUEUE_URL", "SQS_QUEUE_URL")
	v.BindEnv("queue.region", "QUEUE_REGION", "AWS_REGION")
	v.BindEnv("queue.endpoint", "QUEUE_ENDPOINT")
	v.BindEnv("queue.visibility_timeout", "QUEUE_VISIBILITY_TIMEOUT")
	v.BindEnv("queue.wait_seconds", "QUEUE_WAIT_SECONDS")
	v.BindEnv("queue.poll_interval", "QUEUE_POLL_INTERVAL")

	// Storage
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.root", "STORAGE_ROOT")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET", "AWS_BUCKET_NAME")
	v.BindEnv("storage.region", "STORAGE_REGION", "AWS_REGION")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.max_bytes", "STORAGE_MAX_BYTES")

	// Extractor
	v.BindEnv("extractor.driver", "EXTRACTOR_DRIVER")
	v.BindEnv("extractor.api_key", "EXTRACTOR_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("extractor.model", "EXTRACTOR_MODEL", "GEMINI_MODEL_ID")
	v.BindEnv("extractor.base_url", "EXTRACTOR_BASE_URL")
	v.BindEnv("extractor.timeout", "EXTRACTOR_TIMEOUT")

	// Worker
	v.BindEnv("worker.enabled", "WORKER_ENABLED")
	v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	v.BindEnv("worker.batch_size", "WORKER_BATCH_SIZE")
	v.BindEnv("worker.backoff_base", "WORKER_BACKOFF_BASE")
	v.BindEnv("worker.backoff_max", "WORKER_BACKOFF_MAX")
	v.BindEnv("worker.jitter", "WORKER_JITTER")

	// Scanner
	v.BindEnv("scanner.enabled", "SCANNER_ENABLED")
	v.BindEnv("scanner.schedule", "SCANNER_SCHEDULE")
	v.BindEnv("scanner.interval_seconds", "SCANNER_INTERVAL_SECONDS")
	v.BindEnv("scanner.warning_window_days", "SCANNER_WARNING_WINDOW_DAYS")
	v.BindEnv("scanner.timezone", "SCANNER_TIMEZONE")
	v.BindEnv("scanner.limit", "SCANNER_LIMIT")

	// Notifier
	v.BindEnv("notifier.enabled", "NOTIFIER_ENABLED")
	v.BindEnv("notifier.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("notifier.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("notifier.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("notifier.user_email", "GMAIL_USER_EMAIL")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// ScanSchedule returns the cron spec (with seconds field) for the compliance scanner.
// A positive interval wins over the cron expression.
func (c *ScannerConfig) ScanSchedule() string {
	if c.IntervalSeconds > 0 {
		return fmt.Sprintf("@every %ds", c.IntervalSeconds)
	}
	return c.Schedule
}

// Location resolves the scanner timezone, falling back to UTC.
func (c *ScannerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Queue.Driver {
	case "memory", "database":
	case "sqs":
		if c.Queue.URL == "" {
			return fmt.Errorf("queue url is required when using sqs")
		}
	default:
		return fmt.Errorf("unsupported queue driver %q", c.Queue.Driver)
	}
	if c.Queue.VisibilityTimeout < time.Second {
		return fmt.Errorf("queue visibility timeout must be at least 1s")
	}
	if c.Queue.WaitSeconds < 0 || c.Queue.WaitSeconds > 20 {
		return fmt.Errorf("queue wait seconds must be between 0 and 20")
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage root is required for local storage")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Extractor.Driver {
	case "gemini":
		if c.Extractor.APIKey == "" {
			return fmt.Errorf("extractor api key is required for gemini")
		}
	case "static":
	default:
		return fmt.Errorf("unsupported extractor driver %q", c.Extractor.Driver)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if c.Worker.BatchSize <= 0 || c.Worker.BatchSize > 10 {
		return fmt.Errorf("worker batch size must be between 1 and 10")
	}

	if c.Scanner.WarningWindowDays <= 0 {
		return fmt.Errorf("scanner warning window must be greater than 0")
	}
	if strings.TrimSpace(c.Scanner.ScanSchedule()) == "" {
		return fmt.Errorf("scanner schedule is required")
	}

	if c.Notifier.Enabled {
		if c.Notifier.ClientID == "" || c.Notifier.ClientSecret == "" || c.Notifier.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when the notifier is enabled")
		}
		if len(c.Notifier.Recipients) == 0 {
			return fmt.Errorf("at least one notifier recipient is required")
		}
	}

	return nil
}
