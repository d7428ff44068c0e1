package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "posmigrate.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(8), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, 30, cfg.Coach.CallTimeoutSecs)
	assert.Equal(t, 2048, cfg.Coach.MaxTokens)
	assert.InDelta(t, 3.0, cfg.Validator.StddevThreshold, 0.001)
	assert.Equal(t, 4, cfg.Validator.Workers)
	assert.Equal(t, 250, cfg.Validator.ChunkSize)
	assert.Equal(t, 100, cfg.Import.BatchSize)
	assert.Equal(t, 4, cfg.Import.Workers)
	assert.Equal(t, 3, cfg.Import.MaxRetries)
	assert.Equal(t, 365, cfg.Import.RetentionDays)
	assert.Equal(t, 10, cfg.Consent.TimeoutSecs)
	assert.Equal(t, "exports", cfg.Adapter.ExportDir)
	assert.Equal(t, 500, cfg.Adapter.PageSize)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Built-in price table applies when none is configured.
	require.NotEmpty(t, cfg.Pricing)
	assert.Contains(t, cfg.Pricing, "claude-sonnet-4-5-20250929")
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/posmigrate
log:
  level: debug
  format: console
server:
  port: 9090
import:
  batch_size: 50
pricing:
  claude-sonnet-4-5-20250929:
    input_per_1k: 0.004
    output_per_1k: 0.020
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/posmigrate", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Import.BatchSize)
	assert.InDelta(t, 0.004, cfg.Pricing["claude-sonnet-4-5-20250929"].InputPer1K, 1e-9)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Import.Workers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("POSMIGRATE_STORE_DRIVER", "postgres")
	t.Setenv("POSMIGRATE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("POSMIGRATE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config passing validation, for tweaking in
// individual tests.
func validDefaults() *Config {
	return &Config{
		Store: StoreConfig{Driver: "sqlite", DatabaseURL: "posmigrate.db"},
		Validator: ValidatorConfig{
			StddevThreshold: 3.0,
			Workers:         4,
			ChunkSize:       250,
		},
		Import: ImportConfig{BatchSize: 100, Workers: 4, MaxRetries: 3},
		Server: ServerConfig{Port: 8080},
	}
}

func TestValidateRun(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateMissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateBatchSizeBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Import.BatchSize = 0
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import.batch_size must be between 1 and 1000")

	cfg.Import.BatchSize = 1001
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import.batch_size must be between 1 and 1000")

	cfg.Import.BatchSize = 1000
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateServeRequiresPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	// run mode does not need the port.
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateAccumulatesProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Import.Workers = 0
	cfg.Validator.StddevThreshold = -1

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
	assert.Contains(t, err.Error(), "import.workers")
	assert.Contains(t, err.Error(), "validator.stddev_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
