package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EvolutionPolicy is the startup policy for the EvolutionEngine (spec.md §6).
type EvolutionPolicy string

const (
	EvolutionOff       EvolutionPolicy = "off"
	EvolutionOn        EvolutionPolicy = "on"
	EvolutionEmergency EvolutionPolicy = "emergency"
)

// Config holds the evolution core's configuration, assembled with a
// three-layer priority: defaults, then environment variables, then
// functional options, grounded on core/config.go's NewConfig/LoadFromEnv
// pattern in the teacher repo.
type Config struct {
	// Home is the root for persistent state (memory.json, evolution_log.csv,
	// config/). Env: HEPHAESTUS_HOME. Default: current working directory.
	Home string

	// Evolution is the EvolutionEngine startup policy. Env:
	// HEPHAESTUS_EVOLUTION. Default: off.
	Evolution EvolutionPolicy

	// MaxCorrectiveDepth bounds the ErrorAnalyzer corrective-objective chain.
	// Env: HEPHAESTUS_MAX_CORRECTIVE_DEPTH. Default: 3.
	MaxCorrectiveDepth int

	// LLMProvider, LLMAPIKey, LLMBaseURL configure the default CompletionService.
	// Env: LLM_PROVIDER_NAME, LLM_PROVIDER_API_KEY, LLM_PROVIDER_BASE_URL.
	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string

	// LogLevel is the ambient structured-logging threshold. Env:
	// HEPHAESTUS_LOG_LEVEL. Default: info.
	LogLevel string

	// QueueCapacity bounds the ObjectiveQueue. Env: HEPHAESTUS_QUEUE_CAPACITY.
	// Default: 100.
	QueueCapacity int

	// HighRiskThreshold is the PredictiveFailureEngine cutoff at or above
	// which a cycle is flagged high-risk. Env: HEPHAESTUS_HIGH_RISK_THRESHOLD.
	// Default: 0.75.
	HighRiskThreshold float64

	// CycleTimeout is handed to the CycleRunner as its per-agent-call
	// timeout; no deadline spans a whole cycle end to end. Env:
	// HEPHAESTUS_CYCLE_TIMEOUT. Default: 10m.
	CycleTimeout time.Duration

	logger Logger
}

// Option mutates a Config during NewConfig, applied after defaults and
// environment variables, so options always win.
type Option func(*Config) error

// DefaultConfig returns a Config populated with the lowest-priority defaults.
func DefaultConfig() *Config {
	return &Config{
		Home:               ".",
		Evolution:          EvolutionOff,
		MaxCorrectiveDepth: 3,
		LLMProvider:        "",
		LogLevel:           "info",
		QueueCapacity:      100,
		HighRiskThreshold:  0.75,
		CycleTimeout:       10 * time.Minute,
	}
}

// LoadFromEnv overlays recognized environment variables onto c. Unset
// variables leave the existing value untouched.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HEPHAESTUS_HOME"); v != "" {
		c.Home = v
	}
	if v := os.Getenv("HEPHAESTUS_EVOLUTION"); v != "" {
		policy := EvolutionPolicy(strings.ToLower(strings.TrimSpace(v)))
		switch policy {
		case EvolutionOff, EvolutionOn, EvolutionEmergency:
			c.Evolution = policy
		default:
			return fmt.Errorf("HEPHAESTUS_EVOLUTION: invalid value %q (want on, off, or emergency)", v)
		}
	}
	if v := os.Getenv("HEPHAESTUS_MAX_CORRECTIVE_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("HEPHAESTUS_MAX_CORRECTIVE_DEPTH: invalid value %q", v)
		}
		c.MaxCorrectiveDepth = n
	}
	if v := os.Getenv("LLM_PROVIDER_NAME"); v != "" {
		c.LLMProvider = v
	}
	if v := os.Getenv("LLM_PROVIDER_API_KEY"); v != "" {
		c.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER_BASE_URL"); v != "" {
		c.LLMBaseURL = v
	}
	if v := os.Getenv("HEPHAESTUS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HEPHAESTUS_QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("HEPHAESTUS_QUEUE_CAPACITY: invalid value %q", v)
		}
		c.QueueCapacity = n
	}
	if v := os.Getenv("HEPHAESTUS_HIGH_RISK_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("HEPHAESTUS_HIGH_RISK_THRESHOLD: invalid value %q (want 0..1)", v)
		}
		c.HighRiskThreshold = f
	}
	if v := os.Getenv("HEPHAESTUS_CYCLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("HEPHAESTUS_CYCLE_TIMEOUT: invalid value %q", v)
		}
		c.CycleTimeout = d
	}
	return nil
}

// Validate reports whether the final, fully-assembled configuration is
// internally consistent.
func (c *Config) Validate() error {
	switch c.Evolution {
	case EvolutionOff, EvolutionOn, EvolutionEmergency:
	default:
		return fmt.Errorf("invalid Evolution policy %q", c.Evolution)
	}
	if c.MaxCorrectiveDepth < 0 {
		return fmt.Errorf("MaxCorrectiveDepth must be >= 0, got %d", c.MaxCorrectiveDepth)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QueueCapacity must be > 0, got %d", c.QueueCapacity)
	}
	if c.HighRiskThreshold < 0 || c.HighRiskThreshold > 1 {
		return fmt.Errorf("HighRiskThreshold must be in [0,1], got %f", c.HighRiskThreshold)
	}
	if c.CycleTimeout <= 0 {
		return fmt.Errorf("CycleTimeout must be > 0, got %s", c.CycleTimeout)
	}
	return nil
}

// Logger returns the configured logger, falling back to a NoOpLogger if
// none was set via WithLogger.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return NoOpLogger{}
	}
	return c.logger
}

// NewConfig assembles a Config from defaults, then the environment, then
// opts, validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// WithHome overrides the persistent-state root.
func WithHome(home string) Option {
	return func(c *Config) error {
		if home == "" {
			return fmt.Errorf("home must not be empty")
		}
		c.Home = home
		return nil
	}
}

// WithEvolutionPolicy overrides the EvolutionEngine startup policy.
func WithEvolutionPolicy(policy EvolutionPolicy) Option {
	return func(c *Config) error {
		switch policy {
		case EvolutionOff, EvolutionOn, EvolutionEmergency:
			c.Evolution = policy
			return nil
		default:
			return fmt.Errorf("invalid evolution policy %q", policy)
		}
	}
}

// WithMaxCorrectiveDepth overrides the corrective-chain depth bound.
func WithMaxCorrectiveDepth(depth int) Option {
	return func(c *Config) error {
		if depth < 0 {
			return fmt.Errorf("max corrective depth must be >= 0, got %d", depth)
		}
		c.MaxCorrectiveDepth = depth
		return nil
	}
}

// WithLLMProvider sets the default CompletionService provider and its
// credentials.
func WithLLMProvider(name, apiKey, baseURL string) Option {
	return func(c *Config) error {
		c.LLMProvider = name
		c.LLMAPIKey = apiKey
		c.LLMBaseURL = baseURL
		return nil
	}
}

// WithQueueCapacity overrides the ObjectiveQueue bound.
func WithQueueCapacity(capacity int) Option {
	return func(c *Config) error {
		if capacity <= 0 {
			return fmt.Errorf("queue capacity must be > 0, got %d", capacity)
		}
		c.QueueCapacity = capacity
		return nil
	}
}

// WithHighRiskThreshold overrides the PredictiveFailureEngine cutoff.
func WithHighRiskThreshold(threshold float64) Option {
	return func(c *Config) error {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("high risk threshold must be in [0,1], got %f", threshold)
		}
		c.HighRiskThreshold = threshold
		return nil
	}
}

// WithCycleTimeout overrides the per-cycle deadline.
func WithCycleTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("cycle timeout must be > 0, got %s", timeout)
		}
		c.CycleTimeout = timeout
		return nil
	}
}

// WithLogger injects a logger, overriding the production default.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}
