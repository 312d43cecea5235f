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
	Transport    TransportConfig    `yaml:"transport"`
	Sending      SendingConfig      `yaml:"sending"`
	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Verification VerificationConfig `yaml:"verification"`
	Queue        QueueConfig        `yaml:"queue"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AdminToken     string   `yaml:"admin_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" {
		return "0.0.0.0"
	}
	return c.Host
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// Lifetime returns the connection max lifetime as a duration
func (c DatabaseConfig) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// RedisConfig holds Redis settings. An empty URL disables Redis and the
// in-process fallbacks are used instead.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TransportConfig selects and configures the transactional email provider.
type TransportConfig struct {
	Provider       string `yaml:"provider"` // "http" or "ses"
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	APIKeyHeader   string `yaml:"api_key_header"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SESRegion      string `yaml:"ses_region"`
	SESAccessKey   string `yaml:"ses_access_key"`
	SESSecretKey   string `yaml:"ses_secret_key"`
}

// Timeout returns the configured timeout as a duration
func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendingConfig holds batch processor limits.
type SendingConfig struct {
	DefaultBatchSize     int `yaml:"default_batch_size"`
	MaxBatchSize         int `yaml:"max_batch_size"`
	StaleClaimMinutes    int `yaml:"stale_claim_minutes"`
	RecoveryIntervalSecs int `yaml:"recovery_interval_seconds"`
}

// StaleClaim returns how long a job may stay claimed before recovery.
func (c SendingConfig) StaleClaim() time.Duration {
	return time.Duration(c.StaleClaimMinutes) * time.Minute
}

// RecoveryInterval returns how often stale claims are swept.
func (c SendingConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSecs) * time.Second
}

// CoordinatorConfig holds scheduling coordinator settings.
type CoordinatorConfig struct {
	TickIntervalSeconds int    `yaml:"tick_interval_seconds"`
	MaxDuePerTick       int    `yaml:"max_due_per_tick"`
	StateBackend        string `yaml:"state_backend"` // "postgres" or "dynamodb"
	DynamoTable         string `yaml:"dynamo_table"`
	DynamoRegion        string `yaml:"dynamo_region"`
	LockTTLSeconds      int    `yaml:"lock_ttl_seconds"`
	TenantSendsPerHour  int    `yaml:"tenant_sends_per_hour"` // 0 disables the tick guard
}

// TickInterval returns the tick interval as a duration
func (c CoordinatorConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LockTTL returns the per-tenant lock TTL as a duration
func (c CoordinatorConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// RateLimitConfig holds the manual send-batch limits.
type RateLimitConfig struct {
	PerIPLimit     int `yaml:"per_ip_limit"`
	PerTenantLimit int `yaml:"per_tenant_limit"`
	WindowSeconds  int `yaml:"window_seconds"`
}

// Window returns the fixed window as a duration
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// VerificationConfig holds human-verification settings. An empty secret
// disables verification.
type VerificationConfig struct {
	Secret    string `yaml:"secret"`
	VerifyURL string `yaml:"verify_url"`
}

// QueueConfig holds the transport-job queue settings. An empty AMQP URL
// selects the in-process queue.
type QueueConfig struct {
	AMQPURL   string `yaml:"amqp_url"`
	QueueName string `yaml:"queue_name"`
	Prefetch  int    `yaml:"prefetch"`
	Workers   int    `yaml:"workers"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads the YAML config at path and applies defaults. A missing file
// is not an error; defaults and env overrides still apply.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Transport.Provider == "" {
		cfg.Transport.Provider = "http"
	}
	if cfg.Transport.APIKeyHeader == "" {
		cfg.Transport.APIKeyHeader = "Authorization"
	}
	if cfg.Transport.TimeoutSeconds == 0 {
		cfg.Transport.TimeoutSeconds = 15
	}
	if cfg.Transport.SESRegion == "" {
		cfg.Transport.SESRegion = "us-east-1"
	}
	if cfg.Sending.DefaultBatchSize == 0 {
		cfg.Sending.DefaultBatchSize = 50
	}
	if cfg.Sending.MaxBatchSize == 0 {
		cfg.Sending.MaxBatchSize = 500
	}
	if cfg.Sending.StaleClaimMinutes == 0 {
		cfg.Sending.StaleClaimMinutes = 15
	}
	if cfg.Sending.RecoveryIntervalSecs == 0 {
		cfg.Sending.RecoveryIntervalSecs = 120
	}
	if cfg.Coordinator.TickIntervalSeconds == 0 {
		cfg.Coordinator.TickIntervalSeconds = 60
	}
	if cfg.Coordinator.MaxDuePerTick == 0 {
		cfg.Coordinator.MaxDuePerTick = 100
	}
	if cfg.Coordinator.StateBackend == "" {
		cfg.Coordinator.StateBackend = "postgres"
	}
	if cfg.Coordinator.DynamoTable == "" {
		cfg.Coordinator.DynamoTable = "coordinator_state"
	}
	if cfg.Coordinator.LockTTLSeconds == 0 {
		cfg.Coordinator.LockTTLSeconds = 300
	}
	if cfg.RateLimit.PerIPLimit == 0 {
		cfg.RateLimit.PerIPLimit = 30
	}
	if cfg.RateLimit.PerTenantLimit == 0 {
		cfg.RateLimit.PerTenantLimit = 120
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Verification.VerifyURL == "" {
		cfg.Verification.VerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	}
	if cfg.Queue.QueueName == "" {
		cfg.Queue.QueueName = "transport_jobs"
	}
	if cfg.Queue.Prefetch == 0 {
		cfg.Queue.Prefetch = 10
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("TRANSPORT_PROVIDER"); v != "" {
		cfg.Transport.Provider = v
	}
	if v := os.Getenv("TRANSPORT_ENDPOINT"); v != "" {
		cfg.Transport.Endpoint = v
	}
	if v := os.Getenv("TRANSPORT_API_KEY"); v != "" {
		cfg.Transport.APIKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Transport.SESAccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Transport.SESSecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Transport.SESRegion = v
	}
	if v := os.Getenv("TURNSTILE_SECRET"); v != "" {
		cfg.Verification.Secret = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Queue.AMQPURL = v
	}
	if v := os.Getenv("COORDINATOR_STATE_BACKEND"); v != "" {
		cfg.Coordinator.StateBackend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate checks settings that have no sane default.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	switch c.Transport.Provider {
	case "http":
		if c.Transport.Endpoint == "" {
			return fmt.Errorf("transport endpoint is required for the http provider")
		}
	case "ses":
	default:
		return fmt.Errorf("unknown transport provider %q", c.Transport.Provider)
	}
	switch c.Coordinator.StateBackend {
	case "postgres", "dynamodb":
	default:
		return fmt.Errorf("unknown coordinator state backend %q", c.Coordinator.StateBackend)
	}
	if c.Sending.DefaultBatchSize > c.Sending.MaxBatchSize {
		return fmt.Errorf("default batch size %d exceeds max %d", c.Sending.DefaultBatchSize, c.Sending.MaxBatchSize)
	}
	// A batch renews its claims every StaleClaim/3; one send plus that
	// interval has to fit inside the stale age.
	if c.Sending.StaleClaim() < 3*c.Transport.Timeout() {
		return fmt.Errorf("stale claim age %s must be at least 3x the transport timeout %s",
			c.Sending.StaleClaim(), c.Transport.Timeout())
	}
	return nil
}
