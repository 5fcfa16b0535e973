package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultWatchDebounce  = 500 * time.Millisecond
)

// ErrRecipeRequired is returned when no recipe path was configured.
var ErrRecipeRequired = errors.New("recipe path is required")

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string
	RecipePath           string
	Strict               bool
	Watch                bool
	WatchDebounce        time.Duration
	LogLevel             string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	EnableMetrics        bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig represents the YAML configuration file structure.
// Pointer fields distinguish "unset" from an explicit zero value.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	LogLevel             string        `yaml:"log_level"`
	Recipe               yamlRecipe    `yaml:"recipe"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	EnableMetrics        *bool         `yaml:"enable_metrics"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

type yamlRecipe struct {
	Path          string `yaml:"path"`
	Strict        *bool  `yaml:"strict"`
	Watch         *bool  `yaml:"watch"`
	WatchDebounce string `yaml:"watch_debounce"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides. Nil fields were not given.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	RecipePath     *string
	Strict         *bool
	Watch          *bool
	LogLevel       *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		WatchDebounce:        defaultWatchDebounce,
		LogLevel:             defaultLogLevel,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		EnableMetrics:        true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file. Unknown fields are
// rejected so that typos do not pass silently.
func loadFromFile(path string) (*yamlConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	var yamlCfg yamlConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&yamlCfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	if yamlCfg.Recipe.Path != "" {
		cfg.RecipePath = yamlCfg.Recipe.Path
	}
	if yamlCfg.Recipe.Strict != nil {
		cfg.Strict = *yamlCfg.Recipe.Strict
	}
	if yamlCfg.Recipe.Watch != nil {
		cfg.Watch = *yamlCfg.Recipe.Watch
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"recipe.watch_debounce", yamlCfg.Recipe.WatchDebounce, &cfg.WatchDebounce},
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.field = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.EnableMetrics != nil {
		cfg.EnableMetrics = *yamlCfg.EnableMetrics
	}

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if path := strings.TrimSpace(os.Getenv("HPARAMS_RECIPE")); path != "" {
		cfg.RecipePath = path
	}

	if level := strings.TrimSpace(os.Getenv("HPARAMS_LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if strict := strings.TrimSpace(os.Getenv("HPARAMS_STRICT")); strict != "" {
		value, err := strconv.ParseBool(strict)
		if err != nil {
			return fmt.Errorf("HPARAMS_STRICT: %w", err)
		}
		cfg.Strict = value
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.RecipePath != nil && *overrides.RecipePath != "" {
		cfg.RecipePath = *overrides.RecipePath
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.Strict != nil {
		cfg.Strict = *overrides.Strict
	}
	if overrides.Watch != nil {
		cfg.Watch = *overrides.Watch
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.RecipePath) == "" {
		return ErrRecipeRequired
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.Watch && cfg.WatchDebounce <= 0 {
		return fmt.Errorf("watch debounce must be positive, got %s", cfg.WatchDebounce)
	}
	return nil
}
