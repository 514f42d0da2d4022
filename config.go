package ria

import (
	"time"
)

// Config consolidates client, server and storage settings
type Config struct {
	Client    ClientConfig    `json:"client" koanf:"client"`
	Entity    EntityConfig    `json:"entity" koanf:"entity"`
	Operation OperationConfig `json:"operation" koanf:"operation"`
	Logging   LoggingConfig   `json:"logging" koanf:"logging"`
	Server    ServerConfig    `json:"server" koanf:"server"`
	Database  DatabaseConfig  `json:"database" koanf:"database"`
	Telemetry TelemetryConfig `json:"telemetry" koanf:"telemetry"`
}

// ClientConfig contains domain service transport settings
type ClientConfig struct {
	BaseURL        string               `json:"baseUrl" koanf:"base_url"`
	Timeout        time.Duration        `json:"timeout" koanf:"timeout"`
	Retry          RetryConfig          `json:"retry" koanf:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker" koanf:"circuit_breaker"`
	RateLimit      RateLimitConfig      `json:"rateLimit" koanf:"rate_limit"`
}

// RateLimitConfig limits outbound requests. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requestsPerSecond" koanf:"requests_per_second"`
	BurstSize         int     `json:"burstSize" koanf:"burst_size"`
}

// RetryConfig contains the retry policy with exponential backoff
type RetryConfig struct {
	MaxAttempts     int           `json:"maxAttempts" koanf:"max_attempts"`
	InitialInterval time.Duration `json:"initialInterval" koanf:"initial_interval"`
	MaxInterval     time.Duration `json:"maxInterval" koanf:"max_interval"`
	Multiplier      float64       `json:"multiplier" koanf:"multiplier"`
}

// CircuitBreakerConfig contains circuit breaker settings
type CircuitBreakerConfig struct {
	MaxFailures   int           `json:"maxFailures" koanf:"max_failures"`
	Timeout       time.Duration `json:"timeout" koanf:"timeout"`
	HalfOpenLimit int           `json:"halfOpenLimit" koanf:"half_open_limit"`
}

// EntityConfig contains entity metadata and validation settings
type EntityConfig struct {
	TypeDirectory    string `json:"typeDirectory" koanf:"type_directory"`
	ValidateOnSubmit bool   `json:"validateOnSubmit" koanf:"validate_on_submit"`
}

// OperationConfig contains asynchronous operation settings
type OperationConfig struct {
	// DefaultTimeout bounds each transport call. Zero means no limit.
	DefaultTimeout time.Duration `json:"defaultTimeout" koanf:"default_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level"`
	Format string `json:"format" koanf:"format"`
}

// ServerConfig contains domain service server settings
type ServerConfig struct {
	Address      string        `json:"address" koanf:"address"`
	StoreDriver  string        `json:"storeDriver" koanf:"store_driver"`
	ReadTimeout  time.Duration `json:"readTimeout" koanf:"read_timeout"`
	WriteTimeout time.Duration `json:"writeTimeout" koanf:"write_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	DSN            string `json:"dsn" koanf:"dsn"`
	MaxConnections int    `json:"maxConnections" koanf:"max_connections"`
	TableName      string `json:"tableName" koanf:"table_name"`
}

// TelemetryConfig selects the OpenTelemetry exporters
type TelemetryConfig struct {
	ServiceName string `json:"serviceName" koanf:"service_name"`
	// Exporter is none, stdout or otlp.
	Exporter string `json:"exporter" koanf:"exporter"`
	Endpoint string `json:"endpoint" koanf:"endpoint"`
}

// Telemetry exporters accepted by TelemetryConfig.Exporter.
const (
	TelemetryExporterNone   = "none"
	TelemetryExporterStdout = "stdout"
	TelemetryExporterOTLP   = "otlp"
)

// Store drivers accepted by ServerConfig.StoreDriver.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				Multiplier:      2.0,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:   5,
				Timeout:       30 * time.Second,
				HalfOpenLimit: 1,
			},
		},
		Entity: EntityConfig{
			ValidateOnSubmit: true,
		},
		Operation: OperationConfig{
			DefaultTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Address:      ":8080",
			StoreDriver:  StoreDriverMemory,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConnections: 10,
			TableName:      "ria_entities",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ria",
			Exporter:    TelemetryExporterNone,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Client.BaseURL == "" {
		return &ConfigError{Field: "client.baseUrl", Message: "must not be empty"}
	}
	if c.Client.Timeout <= 0 {
		return &ConfigError{Field: "client.timeout", Message: "must be greater than 0"}
	}
	if c.Client.Retry.MaxAttempts < 1 {
		return &ConfigError{Field: "client.retry.maxAttempts", Message: "must be at least 1"}
	}
	if c.Client.Retry.Multiplier <= 0 {
		return &ConfigError{Field: "client.retry.multiplier", Message: "must be greater than 0"}
	}
	if c.Client.Retry.MaxInterval < c.Client.Retry.InitialInterval {
		return &ConfigError{Field: "client.retry.maxInterval", Message: "must be greater than or equal to initialInterval"}
	}
	if c.Client.CircuitBreaker.MaxFailures < 1 {
		return &ConfigError{Field: "client.circuitBreaker.maxFailures", Message: "must be at least 1"}
	}
	if c.Client.RateLimit.RequestsPerSecond < 0 {
		return &ConfigError{Field: "client.rateLimit.requestsPerSecond", Message: "must not be negative"}
	}
	if c.Client.RateLimit.RequestsPerSecond > 0 && c.Client.RateLimit.BurstSize < 1 {
		return &ConfigError{Field: "client.rateLimit.burstSize", Message: "must be at least 1 when rate limiting is enabled"}
	}
	if c.Operation.DefaultTimeout < 0 {
		return &ConfigError{Field: "operation.defaultTimeout", Message: "must not be negative"}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: "must be one of debug, info, warn, error"}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be json or console"}
	}

	switch c.Server.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.Database.DSN == "" {
			return &ConfigError{Field: "database.dsn", Message: "required when server.storeDriver is postgres"}
		}
		if c.Database.MaxConnections <= 0 {
			return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
		}
	default:
		return &ConfigError{Field: "server.storeDriver", Message: "must be memory or postgres"}
	}
	if c.Database.TableName == "" {
		return &ConfigError{Field: "database.tableName", Message: "must not be empty"}
	}

	switch c.Telemetry.Exporter {
	case TelemetryExporterNone, TelemetryExporterStdout:
	case TelemetryExporterOTLP:
		if c.Telemetry.Endpoint == "" {
			return &ConfigError{Field: "telemetry.endpoint", Message: "required when telemetry.exporter is otlp"}
		}
	default:
		return &ConfigError{Field: "telemetry.exporter", Message: "must be none, stdout or otlp"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
