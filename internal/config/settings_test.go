package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseCfg() *Config {
	return &Config{
		Qwen: QwenDefaults{
			ModelName:        "qwen-max",
			BaseURL:          "https://example/v1",
			APIKey:           "process-key",
			Temperature:      0.7,
			MaxTokens:        8192,
			TopP:             0.9,
			FrequencyPenalty: 0.5,
		},
		QualityThreshold: 0.7,
	}
}

func TestResolve_FillsFromProcessDefaultsWhenUnset(t *testing.T) {
	r := Settings{}.Resolve(baseCfg())

	assert.Equal(t, "qwen-max", r.ModelName)
	assert.Equal(t, "process-key", r.APIKey)
	assert.Equal(t, 0.7, r.Temperature)
	assert.Equal(t, 8192, r.MaxTokens)
	assert.Equal(t, DefaultMaxIterations, r.MaxIterations)
	assert.Equal(t, 0.7, r.QualityThreshold)
	assert.Equal(t, DefaultEarlyStopThreshold, r.EarlyStopThreshold)
}

func TestResolve_RequestSettingsOverrideProcessDefaults(t *testing.T) {
	temp := 1.2
	tokens := 4096
	s := Settings{
		ModelName:          "claude-sonnet",
		Temperature:        &temp,
		MaxTokens:          &tokens,
		MaxIterations:      3,
		QualityThreshold:   0.9,
		EarlyStopThreshold: 0.95,
		OutputAsTable:      true,
	}

	r := s.Resolve(baseCfg())

	assert.Equal(t, "claude-sonnet", r.ModelName)
	assert.Equal(t, 1.2, r.Temperature)
	assert.Equal(t, 4096, r.MaxTokens)
	assert.Equal(t, 3, r.MaxIterations)
	assert.Equal(t, 0.9, r.QualityThreshold)
	assert.Equal(t, 0.95, r.EarlyStopThreshold)
	assert.True(t, r.OutputAsTable)
}

func TestResolve_ZeroMaxIterationsFallsBackToDefault(t *testing.T) {
	r := Settings{MaxIterations: 0}.Resolve(baseCfg())
	assert.Equal(t, DefaultMaxIterations, r.MaxIterations)
}
