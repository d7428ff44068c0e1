// Package config loads application configuration from a YAML file and
// POSMIGRATE_* environment variables, and initializes the global
// logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tablestack/posmigrate/internal/cost"
	"github.com/tablestack/posmigrate/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Coach     CoachConfig     `yaml:"coach" mapstructure:"coach"`
	Validator ValidatorConfig `yaml:"validator" mapstructure:"validator"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Consent   ConsentConfig   `yaml:"consent" mapstructure:"consent"`
	Adapter   AdapterConfig   `yaml:"adapter" mapstructure:"adapter"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// CoachConfig tunes the mapping coach.
type CoachConfig struct {
	CallTimeoutSecs  int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxTokens        int `yaml:"max_tokens" mapstructure:"max_tokens"`
	PlanCacheTTLMins int `yaml:"plan_cache_ttl_mins" mapstructure:"plan_cache_ttl_mins"`
}

// ValidatorConfig tunes the data validator.
type ValidatorConfig struct {
	StddevThreshold float64 `yaml:"stddev_threshold" mapstructure:"stddev_threshold"`
	Workers         int     `yaml:"workers" mapstructure:"workers"`
	ChunkSize       int     `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// ImportConfig tunes the batch importer.
type ImportConfig struct {
	BatchSize     int `yaml:"batch_size" mapstructure:"batch_size"`
	Workers       int `yaml:"workers" mapstructure:"workers"`
	MaxRetries    int `yaml:"max_retries" mapstructure:"max_retries"`
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
}

// ConsentConfig configures customer consent notifications.
type ConsentConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AdapterConfig configures POS export ingestion.
type AdapterConfig struct {
	ExportDir   string `yaml:"export_dir" mapstructure:"export_dir"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
	FTPUsername string `yaml:"ftp_username" mapstructure:"ftp_username"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
	FTPTimeout  int    `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POSMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "posmigrate.db")
	v.SetDefault("store.pool.max_conns", 8)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("coach.call_timeout_secs", 30)
	v.SetDefault("coach.max_tokens", 2048)
	v.SetDefault("coach.plan_cache_ttl_mins", 60)
	v.SetDefault("validator.stddev_threshold", 3.0)
	v.SetDefault("validator.workers", 4)
	v.SetDefault("validator.chunk_size", 250)
	v.SetDefault("import.batch_size", 100)
	v.SetDefault("import.workers", 4)
	v.SetDefault("import.max_retries", 3)
	v.SetDefault("import.retention_days", 365)
	v.SetDefault("consent.timeout_secs", 10)
	v.SetDefault("adapter.export_dir", "exports")
	v.SetDefault("adapter.page_size", 500)
	v.SetDefault("adapter.ftp_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// Validate checks the configuration for the given mode ("run" for
// migration commands, "serve" for the status API). Errors are
// accumulated so the operator sees every problem at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Import.BatchSize < 1 || c.Import.BatchSize > 1000 {
		problems = append(problems, "import.batch_size must be between 1 and 1000")
	}
	if c.Import.Workers < 1 || c.Import.Workers > 32 {
		problems = append(problems, "import.workers must be between 1 and 32")
	}
	if c.Validator.StddevThreshold <= 0 {
		problems = append(problems, "validator.stddev_threshold must be > 0")
	}

	switch mode {
	case "run":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
