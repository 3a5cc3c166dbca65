package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ".", cfg.Home)
	assert.Equal(t, EvolutionOff, cfg.Evolution)
	assert.Equal(t, 3, cfg.MaxCorrectiveDepth)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.Equal(t, 0.75, cfg.HighRiskThreshold)
	assert.Equal(t, 10*time.Minute, cfg.CycleTimeout)
}

func clearHephaestusEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"HEPHAESTUS_HOME", "HEPHAESTUS_EVOLUTION", "HEPHAESTUS_MAX_CORRECTIVE_DEPTH",
		"LLM_PROVIDER_NAME", "LLM_PROVIDER_API_KEY", "LLM_PROVIDER_BASE_URL",
		"HEPHAESTUS_LOG_LEVEL", "HEPHAESTUS_QUEUE_CAPACITY",
		"HEPHAESTUS_HIGH_RISK_THRESHOLD", "HEPHAESTUS_CYCLE_TIMEOUT",
	}
	for _, v := range vars {
		_ = os.Unsetenv(v)
	}
}

func TestConfigLoadFromEnv(t *testing.T) {
	clearHephaestusEnv(t)
	defer clearHephaestusEnv(t)

	_ = os.Setenv("HEPHAESTUS_HOME", "/var/lib/hephaestus")
	_ = os.Setenv("HEPHAESTUS_EVOLUTION", "On")
	_ = os.Setenv("HEPHAESTUS_MAX_CORRECTIVE_DEPTH", "5")
	_ = os.Setenv("HEPHAESTUS_QUEUE_CAPACITY", "250")
	_ = os.Setenv("HEPHAESTUS_HIGH_RISK_THRESHOLD", "0.9")
	_ = os.Setenv("HEPHAESTUS_CYCLE_TIMEOUT", "5m")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "/var/lib/hephaestus", cfg.Home)
	assert.Equal(t, EvolutionOn, cfg.Evolution)
	assert.Equal(t, 5, cfg.MaxCorrectiveDepth)
	assert.Equal(t, 250, cfg.QueueCapacity)
	assert.Equal(t, 0.9, cfg.HighRiskThreshold)
	assert.Equal(t, 5*time.Minute, cfg.CycleTimeout)
}

func TestConfigLoadFromEnvRejectsInvalidValues(t *testing.T) {
	clearHephaestusEnv(t)
	defer clearHephaestusEnv(t)

	cases := []struct {
		name string
		env  string
		val  string
	}{
		{"bad evolution policy", "HEPHAESTUS_EVOLUTION", "maybe"},
		{"negative corrective depth", "HEPHAESTUS_MAX_CORRECTIVE_DEPTH", "-1"},
		{"zero queue capacity", "HEPHAESTUS_QUEUE_CAPACITY", "0"},
		{"out of range threshold", "HEPHAESTUS_HIGH_RISK_THRESHOLD", "1.5"},
		{"unparseable timeout", "HEPHAESTUS_CYCLE_TIMEOUT", "soon"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearHephaestusEnv(t)
			_ = os.Setenv(tc.env, tc.val)
			cfg := DefaultConfig()
			assert.Error(t, cfg.LoadFromEnv())
		})
	}
}

func TestNewConfigOptionsOverrideEnv(t *testing.T) {
	clearHephaestusEnv(t)
	defer clearHephaestusEnv(t)

	_ = os.Setenv("HEPHAESTUS_QUEUE_CAPACITY", "250")

	cfg, err := NewConfig(
		WithQueueCapacity(10),
		WithEvolutionPolicy(EvolutionEmergency),
		WithMaxCorrectiveDepth(1),
	)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.QueueCapacity)
	assert.Equal(t, EvolutionEmergency, cfg.Evolution)
	assert.Equal(t, 1, cfg.MaxCorrectiveDepth)
	assert.NotNil(t, cfg.Logger())
}

func TestNewConfigRejectsInvalidOption(t *testing.T) {
	clearHephaestusEnv(t)
	defer clearHephaestusEnv(t)

	_, err := NewConfig(WithQueueCapacity(-5))
	assert.Error(t, err)
}

func TestConfigLoggerFallsBackToNoOp(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, NoOpLogger{}, cfg.Logger())
}
