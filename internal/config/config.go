package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	SES          SESConfig          `yaml:"ses"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Automation   AutomationConfig   `yaml:"automation"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               int      `yaml:"port"`
	Host               string   `yaml:"host"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	ReadTimeoutSeconds int      `yaml:"read_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ReadTimeout returns the request read timeout as a duration
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. An empty Addr disables Redis: locks
// fall back to Postgres advisory locks and notifications go to the log.
type RedisConfig struct {
	Addr                string `yaml:"addr"`
	Password            string `yaml:"password"`
	DB                  int    `yaml:"db"`
	NotificationHistory int    `yaml:"notification_history"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SESConfig holds AWS SES settings for automation e-mail
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	FromEmail        string `yaml:"from_email"`
	FromName         string `yaml:"from_name"`
	ReplyTo          string `yaml:"reply_to"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SchedulerConfig holds scheduled task queue settings
type SchedulerConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	IntervalSeconds         int    `yaml:"interval_seconds"`
	BatchLimit              int    `yaml:"batch_limit"`
	BackoffSeconds          int    `yaml:"backoff_seconds"`
	BackoffMode             string `yaml:"backoff_mode"` // "fixed" or "exponential"
	MaxBackoffSeconds       int    `yaml:"max_backoff_seconds"`
	LeaseMinutes            int    `yaml:"lease_minutes"`
	RecoveryIntervalSeconds int    `yaml:"recovery_interval_seconds"`
	// Completed tasks older than this are purged. Negative keeps them.
	RetentionDays int `yaml:"retention_days"`
}

// Interval returns the processing interval as a duration
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Backoff returns the base retry delay as a duration
func (c SchedulerConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// MaxBackoff returns the exponential backoff cap as a duration
func (c SchedulerConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// Lease returns how long a claim may stay processing
func (c SchedulerConfig) Lease() time.Duration {
	return time.Duration(c.LeaseMinutes) * time.Minute
}

// Retention returns how long completed tasks are kept
func (c SchedulerConfig) Retention() time.Duration {
	if c.RetentionDays < 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// RecoveryInterval returns how often stale claims are reaped
func (c SchedulerConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

// SegmentationConfig holds membership recomputation settings
type SegmentationConfig struct {
	RefreshIntervalMinutes int      `yaml:"refresh_interval_minutes"`
	LockTTLSeconds         int      `yaml:"lock_ttl_seconds"`
	Organizations          []string `yaml:"organizations"` // orgs swept by the worker
}

// RefreshInterval returns the periodic recompute interval; zero disables it.
func (c SegmentationConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// LockTTL returns the per-segment lock TTL as a duration
func (c SegmentationConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// AutomationConfig holds automation engine settings
type AutomationConfig struct {
	PlannerEnabled         bool `yaml:"planner_enabled"`
	PlannerIntervalSeconds int  `yaml:"planner_interval_seconds"`
	WebhookTimeoutSeconds  int  `yaml:"webhook_timeout_seconds"`
	WebhookRetries         int  `yaml:"webhook_retries"`
	StaleRunMinutes        int  `yaml:"stale_run_minutes"`
}

// PlannerInterval returns the time-based planner interval as a duration
func (c AutomationConfig) PlannerInterval() time.Duration {
	return time.Duration(c.PlannerIntervalSeconds) * time.Second
}

// StaleRunAge returns how long a run may stay processing before the
// run reaper fails it as abandoned
func (c AutomationConfig) StaleRunAge() time.Duration {
	return time.Duration(c.StaleRunMinutes) * time.Minute
}

// WebhookTimeout returns the per-attempt send_webhook timeout
func (c AutomationConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// LedgerConfig selects where run and task-attempt entries are written.
// Any combination of sinks may be enabled.
type LedgerConfig struct {
	Postgres             bool   `yaml:"postgres"`
	S3Bucket             string `yaml:"s3_bucket"`
	S3Prefix             string `yaml:"s3_prefix"`
	DynamoDBTable        string `yaml:"dynamodb_table"`
	Region               string `yaml:"region"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds"`
	RetentionDays        int    `yaml:"retention_days"` // postgres entries only; 0 keeps all
}

// FlushInterval returns the S3 archive flush interval as a duration
func (c LedgerConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// Retention returns how long Postgres ledger entries are kept
func (c LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{Logging: LoggingConfig{RedactPII: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}
	if cfg.Redis.NotificationHistory == 0 {
		cfg.Redis.NotificationHistory = 50
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Scheduler.BatchLimit == 0 {
		cfg.Scheduler.BatchLimit = 100
	}
	if cfg.Scheduler.BackoffSeconds == 0 {
		cfg.Scheduler.BackoffSeconds = 300
	}
	if cfg.Scheduler.BackoffMode == "" {
		cfg.Scheduler.BackoffMode = "fixed"
	}
	if cfg.Scheduler.LeaseMinutes == 0 {
		cfg.Scheduler.LeaseMinutes = 15
	}
	if cfg.Scheduler.RecoveryIntervalSeconds == 0 {
		cfg.Scheduler.RecoveryIntervalSeconds = 120
	}
	if cfg.Scheduler.RetentionDays == 0 {
		cfg.Scheduler.RetentionDays = 30
	}
	if cfg.Segmentation.LockTTLSeconds == 0 {
		cfg.Segmentation.LockTTLSeconds = 300
	}
	if cfg.Automation.PlannerIntervalSeconds == 0 {
		cfg.Automation.PlannerIntervalSeconds = 60
	}
	if cfg.Automation.WebhookTimeoutSeconds == 0 {
		cfg.Automation.WebhookTimeoutSeconds = 10
	}
	if cfg.Automation.WebhookRetries == 0 {
		cfg.Automation.WebhookRetries = 2
	}
	if cfg.Automation.StaleRunMinutes == 0 {
		cfg.Automation.StaleRunMinutes = 60
	}
	if cfg.Ledger.S3Prefix == "" {
		cfg.Ledger.S3Prefix = "ledger"
	}
	if cfg.Ledger.Region == "" {
		cfg.Ledger.Region = cfg.SES.Region
	}
	if cfg.Ledger.FlushIntervalSeconds == 0 {
		cfg.Ledger.FlushIntervalSeconds = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if v := os.Getenv("LEDGER_S3_BUCKET"); v != "" {
		cfg.Ledger.S3Bucket = v
	}
	if v := os.Getenv("LEDGER_DYNAMODB_TABLE"); v != "" {
		cfg.Ledger.DynamoDBTable = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = enabled
		}
	}

	return cfg, nil
}
