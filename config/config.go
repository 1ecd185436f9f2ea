// Package config loads the finmesh configuration from a YAML file with
// FINMESH_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/finmesh/logging"
)

// ErrInvalidConfig is returned by Validate and Load for unusable values.
var ErrInvalidConfig = errors.New("invalid config")

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Config is the complete runtime configuration.
type Config struct {
	// Environment is development or production. Development enables strict
	// artifact checks.
	Environment string         `yaml:"environment"`
	Model       ModelConfig    `yaml:"model"`
	Agent       AgentConfig    `yaml:"agent"`
	Cache       CacheConfig    `yaml:"cache"`
	Artifacts   ArtifactConfig `yaml:"artifacts"`
	Retry       RetryConfig    `yaml:"retry"`
	Database    DatabaseConfig `yaml:"database"`
	Server      ServerConfig   `yaml:"server"`
	Log         LogConfig      `yaml:"log"`
}

// ModelConfig selects the language model.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	// BaseURL overrides the provider endpoint. API keys are read by the
	// provider SDKs from their usual environment variables.
	BaseURL string `yaml:"base_url"`
}

// AgentConfig bounds the agent loop and the runner.
type AgentConfig struct {
	MaxSteps           int           `yaml:"max_steps"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	MaxParallelTools   int           `yaml:"max_parallel_tools"`
	MaxHistoryMessages int           `yaml:"max_history_messages"`
	MaxConcurrentTurns int           `yaml:"max_concurrent_turns"`
}

// CacheConfig configures the tool result cache.
type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
	Debug   bool          `yaml:"debug"`
}

// ArtifactConfig configures artifact channels.
type ArtifactConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// RetryConfig configures model call retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DatabaseConfig locates the finance database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// SeedOrganization fills an empty database with demo data for this organization.
	SeedOrganization string `yaml:"seed_organization"`
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Environment: EnvProduction,
		Model: ModelConfig{
			Provider:    ProviderOpenAI,
			Name:        "gpt-4o-mini",
			Temperature: 0.2,
		},
		Agent: AgentConfig{
			MaxSteps:           10,
			ToolTimeout:        30 * time.Second,
			MaxHistoryMessages: 20,
			MaxConcurrentTurns: 10,
		},
		Cache: CacheConfig{
			TTL:     5 * time.Minute,
			Timeout: 30 * time.Second,
		},
		Artifacts: ArtifactConfig{BufferSize: 64},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		Database: DatabaseConfig{Path: "finmesh.sqlite"},
		Server:   ServerConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether development checks are enabled.
func (c Config) IsDevelopment() bool { return c.Environment == EnvDevelopment }

// LogLevel returns the configured level.
func (c Config) LogLevel() logging.LogLevel { return logging.ParseLevel(c.Log.Level) }

// Validate rejects values the components cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("environment must be %s or %s, got %q", EnvDevelopment, EnvProduction, c.Environment))
	}
	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}
	if c.Model.Provider != ProviderMock && strings.TrimSpace(c.Model.Name) == "" {
		errs = append(errs, errors.New("model name is required"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model temperature %v out of range [0,2]", c.Model.Temperature))
	}
	if c.Agent.MaxSteps < 1 {
		errs = append(errs, errors.New("agent max_steps must be positive"))
	}
	if c.Agent.ToolTimeout <= 0 {
		errs = append(errs, errors.New("agent tool_timeout must be positive"))
	}
	if c.Agent.MaxParallelTools < 0 || c.Agent.MaxConcurrentTurns < 0 {
		errs = append(errs, errors.New("agent limits must not be negative"))
	}
	if c.Agent.MaxHistoryMessages < 1 {
		errs = append(errs, errors.New("agent max_history_messages must be positive"))
	}
	if c.Cache.TTL < 0 || c.Cache.Timeout < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}
	if c.Artifacts.BufferSize < 1 {
		errs = append(errs, errors.New("artifacts buffer_size must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max_attempts must be positive"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 <= base_delay <= max_delay"))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
