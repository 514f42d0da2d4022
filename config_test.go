package ria

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, "http://localhost:8080", config.Client.BaseURL)
	assert.Equal(t, 3, config.Client.Retry.MaxAttempts)
	assert.Equal(t, 5, config.Client.CircuitBreaker.MaxFailures)
	assert.True(t, config.Entity.ValidateOnSubmit)
	assert.Equal(t, StoreDriverMemory, config.Server.StoreDriver)
	assert.Equal(t, "ria_entities", config.Database.TableName)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "empty base url", mutate: func(c *Config) { c.Client.BaseURL = "" }, wantField: "client.baseUrl"},
		{name: "zero timeout", mutate: func(c *Config) { c.Client.Timeout = 0 }, wantField: "client.timeout"},
		{name: "no retry attempts", mutate: func(c *Config) { c.Client.Retry.MaxAttempts = 0 }, wantField: "client.retry.maxAttempts"},
		{
			name:      "max interval below initial",
			mutate:    func(c *Config) { c.Client.Retry.MaxInterval = time.Millisecond },
			wantField: "client.retry.maxInterval",
		},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantField: "logging.level"},
		{name: "unknown driver", mutate: func(c *Config) { c.Server.StoreDriver = "sqlite" }, wantField: "server.storeDriver"},
		{
			name:      "postgres without dsn",
			mutate:    func(c *Config) { c.Server.StoreDriver = StoreDriverPostgres },
			wantField: "database.dsn",
		},
		{name: "unknown exporter", mutate: func(c *Config) { c.Telemetry.Exporter = "zipkin" }, wantField: "telemetry.exporter"},
		{
			name:      "otlp without endpoint",
			mutate:    func(c *Config) { c.Telemetry.Exporter = TelemetryExporterOTLP },
			wantField: "telemetry.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ria.yaml")
	yaml := `
client:
  base_url: http://domain.example:9000
  retry:
    max_attempts: 5
server:
  store_driver: postgres
database:
  dsn: postgres://localhost/ria
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("RIA_CLIENT_TIMEOUT", "2s")
	t.Setenv("RIA_DATABASE_MAX_CONNECTIONS", "4")
	t.Setenv("RIA_ENTITY_VALIDATE_ON_SUBMIT", "false")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://domain.example:9000", config.Client.BaseURL)
	assert.Equal(t, 5, config.Client.Retry.MaxAttempts)
	assert.Equal(t, 2.0, config.Client.Retry.Multiplier, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, config.Client.Timeout)
	assert.Equal(t, StoreDriverPostgres, config.Server.StoreDriver)
	assert.Equal(t, 4, config.Database.MaxConnections)
	assert.False(t, config.Entity.ValidateOnSubmit)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("RIA_LOGGING_LEVEL", "loud")
	_, err = LoadConfig("")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "logging.level", cfgErr.Field)
}
