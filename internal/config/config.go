package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/toxipipe/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Detox      DetoxConfig      `yaml:"detox" mapstructure:"detox"`
	Thresholds Thresholds       `yaml:"thresholds" mapstructure:"thresholds"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DetoxConfig holds the scoring oracle endpoint settings. The endpoint and
// credentials are opaque to the pipeline core.
type DetoxConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Thresholds configures verdict classification. Confidence boundaries must
// be strictly descending: high > medium.
type Thresholds struct {
	Toxicity         float64 `yaml:"toxicity" mapstructure:"toxicity"`
	ConfidenceHigh   float64 `yaml:"confidence_high" mapstructure:"confidence_high"`
	ConfidenceMedium float64 `yaml:"confidence_medium" mapstructure:"confidence_medium"`
}

// Validate checks threshold sanity.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"toxicity":          t.Toxicity,
		"confidence_high":   t.ConfidenceHigh,
		"confidence_medium": t.ConfidenceMedium,
	} {
		if v < 0 || v > 1 {
			return &model.ConfigError{Reason: "threshold " + name + " outside [0,1]"}
		}
	}
	if t.ConfidenceHigh <= t.ConfidenceMedium {
		return &model.ConfigError{Reason: "confidence boundaries not strictly descending (high must exceed medium)"}
	}
	return nil
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentPosts int     `yaml:"max_concurrent_posts" mapstructure:"max_concurrent_posts"`
	OracleRateLimit    float64 `yaml:"oracle_rate_limit" mapstructure:"oracle_rate_limit"`
}

// RetryConfig configures bounded retry of transient oracle and storage
// failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("TOXIPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "toxipipe.db")
	v.SetDefault("detox.base_url", "http://localhost:9090")
	v.SetDefault("detox.api_key", "")
	v.SetDefault("detox.timeout_secs", 30)
	v.SetDefault("thresholds.toxicity", 0.7)
	v.SetDefault("thresholds.confidence_high", 0.8)
	v.SetDefault("thresholds.confidence_medium", 0.5)
	v.SetDefault("batch.max_concurrent_posts", 5)
	v.SetDefault("batch.oracle_rate_limit", 10)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
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

	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Render returns the effective configuration as YAML with credentials
// redacted.
func (c *Config) Render() (string, error) {
	redacted := *c
	if redacted.Detox.APIKey != "" {
		redacted.Detox.APIKey = "***"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", eris.Wrap(err, "config: render yaml")
	}
	return string(out), nil
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
