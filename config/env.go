package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FINMESH_"

// LookupFunc looks up an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

var envVars = []envVar{
	{"ENV", setString(func(c *Config) *string { return &c.Environment })},
	{"MODEL_PROVIDER", setString(func(c *Config) *string { return &c.Model.Provider })},
	{"MODEL", setString(func(c *Config) *string { return &c.Model.Name })},
	{"MODEL_BASE_URL", setString(func(c *Config) *string { return &c.Model.BaseURL })},
	{"MODEL_TEMPERATURE", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Model.Temperature = f
		return nil
	}},
	{"MAX_STEPS", setInt(func(c *Config) *int { return &c.Agent.MaxSteps })},
	{"TOOL_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Agent.ToolTimeout })},
	{"MAX_CONCURRENT_TURNS", setInt(func(c *Config) *int { return &c.Agent.MaxConcurrentTurns })},
	{"CACHE_TTL", setDuration(func(c *Config) *time.Duration { return &c.Cache.TTL })},
	{"CACHE_DEBUG", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Cache.Debug = b
		return nil
	}},
	{"ARTIFACT_BUFFER", setInt(func(c *Config) *int { return &c.Artifacts.BufferSize })},
	{"RETRY_MAX_ATTEMPTS", setInt(func(c *Config) *int { return &c.Retry.MaxAttempts })},
	{"DB_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"SEED_ORGANIZATION", setString(func(c *Config) *string { return &c.Database.SeedOrganization })},
	{"ADDR", setString(func(c *Config) *string { return &c.Server.Addr })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", setString(func(c *Config) *string { return &c.Log.Format })},
}

// ApplyEnv overrides fields from FINMESH_* variables found by lookup.
// Empty values are ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, ev.name, err)
		}
	}
	return nil
}

func setString(field func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setDuration(field func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
