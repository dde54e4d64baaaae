package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const configFileEnv = "CONFIG_FILE"

// Anomaly detection modes
const (
	AnomalyModeAbsolute = "absolute"
	AnomalyModeRate     = "rate"
)

// Config holds all application configuration
type Config struct {
	ServiceName string           `yaml:"service_name"`
	ServicePort int              `yaml:"service_port"`
	HTTP        HTTPConfig       `yaml:"http"`
	Database    DatabaseConfig   `yaml:"database"`
	RabbitMQ    RabbitMQConfig   `yaml:"rabbitmq"`
	Redis       RedisConfig      `yaml:"redis"`
	Validation  ValidationConfig `yaml:"validation"`
	Anomaly     AnomalyConfig    `yaml:"anomaly"`
}

// HTTPConfig holds ingest endpoint settings
type HTTPConfig struct {
	IngestPath   string `yaml:"ingest_path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and queue settings.
// An empty URL disables the broker entirely.
type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	AlertExchange    string `yaml:"alert_exchange"`
	AlertRoutingKey  string `yaml:"alert_routing_key"`
	IngestEnabled    bool   `yaml:"ingest_enabled"`
	IngestExchange   string `yaml:"ingest_exchange"`
	IngestQueue      string `yaml:"ingest_queue"`
	IngestRoutingKey string `yaml:"ingest_routing_key"`
	DLQQueue         string `yaml:"dlq_queue"`
	PrefetchCount    int    `yaml:"prefetch"`
	MaxRedeliveries  int    `yaml:"max_redeliveries"`
}

// RedisConfig holds per-device lock settings. An empty Addr disables locking.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	LockTTLMs  int    `yaml:"lock_ttl_ms"`
	LockWaitMs int    `yaml:"lock_wait_ms"`
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int `yaml:"timestamp_tolerance_minutes"`
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	Mode                string  `yaml:"mode"`
	IgnitionRPM         int     `yaml:"ignition_rpm"`
	FuelDropThreshold   float64 `yaml:"fuel_drop_threshold"`
	FuelDropRatePerHour float64 `yaml:"fuel_drop_rate_per_hour"`
}

// Load loads configuration from an optional YAML file named by CONFIG_FILE,
// then applies environment variable overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv(configFileEnv); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.ServicePort = getEnvAsInt("SERVICE_PORT", cfg.ServicePort)

	cfg.HTTP.IngestPath = getEnv("HTTP_INGEST_PATH", cfg.HTTP.IngestPath)
	cfg.HTTP.MaxBodyBytes = int64(getEnvAsInt("HTTP_MAX_BODY_BYTES", int(cfg.HTTP.MaxBodyBytes)))

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.AutoMigrate = getEnvAsBool("DATABASE_AUTO_MIGRATE", cfg.Database.AutoMigrate)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.AlertExchange = getEnv("RABBITMQ_ALERT_EXCHANGE", cfg.RabbitMQ.AlertExchange)
	cfg.RabbitMQ.AlertRoutingKey = getEnv("RABBITMQ_ALERT_ROUTING_KEY", cfg.RabbitMQ.AlertRoutingKey)
	cfg.RabbitMQ.IngestEnabled = getEnvAsBool("RABBITMQ_INGEST_ENABLED", cfg.RabbitMQ.IngestEnabled)
	cfg.RabbitMQ.IngestExchange = getEnv("RABBITMQ_INGEST_EXCHANGE", cfg.RabbitMQ.IngestExchange)
	cfg.RabbitMQ.IngestQueue = getEnv("RABBITMQ_INGEST_QUEUE", cfg.RabbitMQ.IngestQueue)
	cfg.RabbitMQ.IngestRoutingKey = getEnv("RABBITMQ_INGEST_ROUTING_KEY", cfg.RabbitMQ.IngestRoutingKey)
	cfg.RabbitMQ.DLQQueue = getEnv("RABBITMQ_DLQ_QUEUE", cfg.RabbitMQ.DLQQueue)
	cfg.RabbitMQ.PrefetchCount = getEnvAsInt("RABBITMQ_PREFETCH", cfg.RabbitMQ.PrefetchCount)
	cfg.RabbitMQ.MaxRedeliveries = getEnvAsInt("RABBITMQ_INGEST_MAX_REDELIVERIES", cfg.RabbitMQ.MaxRedeliveries)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.LockTTLMs = getEnvAsInt("REDIS_LOCK_TTL_MS", cfg.Redis.LockTTLMs)
	cfg.Redis.LockWaitMs = getEnvAsInt("REDIS_LOCK_WAIT_MS", cfg.Redis.LockWaitMs)

	cfg.Validation.TimestampToleranceMinutes = getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", cfg.Validation.TimestampToleranceMinutes)

	cfg.Anomaly.Mode = strings.ToLower(getEnv("ANOMALY_MODE", cfg.Anomaly.Mode))
	cfg.Anomaly.IgnitionRPM = getEnvAsInt("ANOMALY_IGNITION_RPM", cfg.Anomaly.IgnitionRPM)
	cfg.Anomaly.FuelDropThreshold = getEnvAsFloat("ANOMALY_FUEL_DROP_THRESHOLD", cfg.Anomaly.FuelDropThreshold)
	cfg.Anomaly.FuelDropRatePerHour = getEnvAsFloat("ANOMALY_FUEL_DROP_RATE_PER_HOUR", cfg.Anomaly.FuelDropRatePerHour)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HTTPAddress returns the :port listen address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.ServicePort)
}

// BrokerEnabled reports whether a RabbitMQ URL is configured.
func (c *Config) BrokerEnabled() bool {
	return c.RabbitMQ.URL != ""
}

func defaults() *Config {
	return &Config{
		ServiceName: "fleet-telemetry-ingest",
		ServicePort: 8080,
		HTTP: HTTPConfig{
			IngestPath:   "/telemetry-ingest",
			MaxBodyBytes: 64 << 10,
		},
		RabbitMQ: RabbitMQConfig{
			AlertExchange:    "fleet-telemetry.alerts.exchange",
			AlertRoutingKey:  "telemetry.anomaly.fuel_drop",
			IngestExchange:   "fleet-telemetry.ingest.exchange",
			IngestQueue:      "fleet-telemetry.ingest.queue",
			IngestRoutingKey: "telemetry.reading.raw",
			DLQQueue:         "fleet-telemetry.ingest.dlq",
			PrefetchCount:    10,
			MaxRedeliveries:  5,
		},
		Redis: RedisConfig{
			LockTTLMs:  5000,
			LockWaitMs: 2000,
		},
		Anomaly: AnomalyConfig{
			Mode:                AnomalyModeAbsolute,
			IgnitionRPM:         300,
			FuelDropThreshold:   5,
			FuelDropRatePerHour: 10,
		},
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if c.RabbitMQ.IngestEnabled && c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_INGEST_ENABLED requires RABBITMQ_URL")
	}
	switch c.Anomaly.Mode {
	case AnomalyModeAbsolute, AnomalyModeRate:
	default:
		return fmt.Errorf("ANOMALY_MODE must be %q or %q, got %q", AnomalyModeAbsolute, AnomalyModeRate, c.Anomaly.Mode)
	}
	if !strings.HasPrefix(c.HTTP.IngestPath, "/") {
		return fmt.Errorf("HTTP_INGEST_PATH must start with '/', got %q", c.HTTP.IngestPath)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
