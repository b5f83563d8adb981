package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide configuration for the agent coordination core.
// It follows a three-layer priority: defaults, then environment variables,
// then an optional YAML overlay loaded last (functional options are applied
// by callers on top of the returned Config).
type Config struct {
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Breaker   BreakerConfig   `json:"breaker" yaml:"breaker"`
	Broker    BrokerConfig    `json:"broker" yaml:"broker"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" env:"AGENTCORE_LOG_LEVEL" default:"INFO"`
}

// RateLimitConfig holds the four-dimension default bucket sizes.
type RateLimitConfig struct {
	AgentDefaultMax      int            `yaml:"agent_default_max"`
	AgentDefaultInterval time.Duration  `yaml:"agent_default_interval"`
	GlobalMax            int            `yaml:"global_max"`
	GlobalInterval       time.Duration  `yaml:"global_interval"`
	MessageTypeMax       map[string]int `yaml:"message_type_max"`
	MessageTypeInterval  time.Duration  `yaml:"message_type_interval"`
	PriorityMax          map[string]int `yaml:"priority_max"`
	PriorityInterval     time.Duration  `yaml:"priority_interval"`
}

// BreakerConfig holds the per-name circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" default:"5"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" default:"30s"`
	HalfOpenLimit    int           `yaml:"half_open_limit" default:"3"`
	WindowSize       time.Duration `yaml:"window_size" default:"60s"`
}

// BrokerConfig controls the message broker's background sweeper cadence.
type BrokerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" default:"60s"`
}

// DefaultConfig returns the baseline rate-limit and breaker defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "INFO"},
		RateLimit: RateLimitConfig{
			AgentDefaultMax:      100,
			AgentDefaultInterval: 60 * time.Second,
			GlobalMax:            1000,
			GlobalInterval:       60 * time.Second,
			MessageTypeMax: map[string]int{
				"direct":         50,
				"broadcast":      10,
				"task_request":   20,
				"task_response":  20,
				"status_update":  30,
				"error":          20,
				"system":         10,
				"default":        50,
			},
			MessageTypeInterval: 60 * time.Second,
			PriorityMax: map[string]int{
				"high":   50,
				"medium": 100,
				"low":    200,
			},
			PriorityInterval: 60 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenLimit:    3,
			WindowSize:       60 * time.Second,
		},
		Broker: BrokerConfig{
			SweepInterval: 60 * time.Second,
		},
	}
}

// LoadConfig builds a Config from defaults, then environment variables,
// then (if path is non-empty) a YAML overlay file.
func LoadConfig(yamlPath string) (*Config, error) {
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, NewFrameworkError("core.LoadConfig", "config", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &FrameworkError{
				Op: "core.LoadConfig", Kind: "config",
				Err: fmt.Errorf("%w: %v", ErrInvalidConfiguration, err),
			}
		}
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AGENTCORE_RATELIMIT_GLOBAL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.GlobalMax = n
		}
	}
	if v := os.Getenv("AGENTCORE_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("AGENTCORE_BREAKER_RESET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Breaker.ResetTimeout = d
		}
	}
}
