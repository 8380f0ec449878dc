// Package config loads application configuration from a yaml file and
// TITLE_-prefixed environment variables, and owns the global logger setup.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Objects   ObjectsConfig   `yaml:"objects" mapstructure:"objects"`
	Textract  TextractConfig  `yaml:"textract" mapstructure:"textract"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Sonar     SonarConfig     `yaml:"sonar" mapstructure:"sonar"`
	NLP       NLPConfig       `yaml:"nlp" mapstructure:"nlp"`
	Sweep     SweepConfig     `yaml:"sweep" mapstructure:"sweep"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// RetryConfig tunes retry backoff for LLM calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig tunes the LLM circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the document ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ObjectsConfig names the bucket and key prefixes the pipeline works under.
// Root is the filesystem directory backing the local object store.
type ObjectsConfig struct {
	Root           string `yaml:"root" mapstructure:"root"`
	Bucket         string `yaml:"bucket" mapstructure:"bucket"`
	InputPrefix    string `yaml:"input_prefix" mapstructure:"input_prefix"`
	TextractPrefix string `yaml:"textract_prefix" mapstructure:"textract_prefix"`
	OutputPrefix   string `yaml:"output_prefix" mapstructure:"output_prefix"`
	PromptKey      string `yaml:"prompt_key" mapstructure:"prompt_key"`
}

// TextractConfig configures the OCR phase.
type TextractConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	PollIntervalSecs    int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollTimeoutSecs     int     `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// PollInterval returns the poll interval as a duration.
func (c TextractConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// PollTimeout returns the poll timeout as a duration.
func (c TextractConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings for the NLP phase.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// SonarConfig holds settings for the vision extraction path.
type SonarConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// NLPConfig configures text normalization.
type NLPConfig struct {
	MaxChunkChars int `yaml:"max_chunk_chars" mapstructure:"max_chunk_chars"`
}

// SweepConfig configures the periodic input sweep.
type SweepConfig struct {
	MaxPerRun       int `yaml:"max_per_run" mapstructure:"max_per_run"`
	Workers         int `yaml:"workers" mapstructure:"workers"`
	MaxAttempts     int `yaml:"max_attempts" mapstructure:"max_attempts"`
	CooldownMinutes int `yaml:"cooldown_minutes" mapstructure:"cooldown_minutes"`
}

// Cooldown returns the retry cooldown as a duration.
func (c SweepConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
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
	v.SetEnvPrefix("TITLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "title-extract.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("objects.root", "data")
	v.SetDefault("objects.input_prefix", "input/")
	v.SetDefault("objects.textract_prefix", "textract/")
	v.SetDefault("objects.output_prefix", "openai/")
	v.SetDefault("objects.prompt_key", "prompts/nlp.yaml")
	v.SetDefault("textract.confidence_threshold", 90.0)
	v.SetDefault("textract.poll_interval_secs", 2)
	v.SetDefault("textract.poll_timeout_secs", 600)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_second", 1.0)
	v.SetDefault("anthropic.burst", 1)
	v.SetDefault("sonar.base_url", "https://api.perplexity.ai")
	v.SetDefault("sonar.model", "sonar-reasoning-pro")
	v.SetDefault("sonar.max_tokens", 4096)
	v.SetDefault("nlp.max_chunk_chars", 18000)
	v.SetDefault("sweep.max_per_run", 25)
	v.SetDefault("sweep.workers", 4)
	v.SetDefault("sweep.max_attempts", 3)
	v.SetDefault("sweep.cooldown_minutes", 15)

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

	return &cfg, nil
}

// Validate checks the configuration for the given run mode. Modes need
// different credentials: "process" and "sweep" run the full pipeline,
// "vision" only needs the sonar endpoint, "status" only the ledger.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Store.Driver == "sqlite" || c.Store.Driver == "postgres",
		"store.driver must be sqlite or postgres")
	if c.Store.Driver == "sqlite" {
		check(c.Store.Path != "", "store.path is required for the sqlite driver")
	} else {
		check(c.Store.DatabaseURL != "", "store.database_url is required for the postgres driver")
	}
	check(c.Textract.ConfidenceThreshold > 0 && c.Textract.ConfidenceThreshold <= 100,
		"textract.confidence_threshold must be in (0, 100]")

	switch mode {
	case "process", "sweep":
		check(c.Objects.Bucket != "", "objects.bucket is required")
		check(c.Anthropic.Key != "", "anthropic.key is required")
		check(c.Sweep.Workers >= 1 && c.Sweep.Workers <= 32,
			"sweep.workers must be between 1 and 32")
		check(c.Sweep.MaxPerRun >= 1, "sweep.max_per_run must be >= 1")
	case "vision":
		check(c.Objects.Bucket != "", "objects.bucket is required")
		check(c.Sonar.Key != "", "sonar.key is required")
	case "status":
		// Ledger settings only, already checked above.
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
