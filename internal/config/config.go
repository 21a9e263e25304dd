// Package config holds process-wide defaults read once at startup and the
// per-request Settings value threaded explicitly through every engine call.
// Nothing here is read again after Load returns; there is no global mutable
// configuration state.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the immutable set of process defaults, sourced from the
// environment once at startup.
type Config struct {
	LogLevel string

	Qwen QwenDefaults

	// QualityThreshold is the default acceptance threshold used by the
	// evaluator when a request does not override it via Settings.
	QualityThreshold float64

	Obs ObsConfig

	Anthropic AnthropicConfig
}

// QwenDefaults mirrors the environment-driven defaults for the primary
// OpenAI-compatible backend (named for Qwen/Bailian, but equally usable
// against any compatible endpoint such as vLLM or Ollama).
type QwenDefaults struct {
	APIKey            string
	BaseURL           string
	ModelName         string
	Temperature       float64
	MaxTokens         int
	TopP              float64
	FrequencyPenalty  float64
}

// ObsConfig configures OpenTelemetry export. Empty OTLP disables tracing.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// AnthropicConfig configures the Claude-backed alternate provider.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// GoogleConfig configures the Gemini-backed alternate provider.
type GoogleConfig struct {
	APIKey string
	Model  string
}

const (
	defaultModelName        = "qwen-max"
	defaultTemperature      = 0.7
	defaultMaxTokens        = 8192
	defaultTopP             = 0.9
	defaultFrequencyPenalty = 0.5
	defaultQualityThreshold = 0.7
)

// Load reads process configuration from the environment. A .env file in the
// working directory, if present, overrides already-set OS environment
// variables (matching the behavior relied on by the rest of the stack).
func Load() (*Config, error) {
	_ = godotenv.Overload()

	cfg := &Config{
		LogLevel: firstNonEmpty(trimEnv("LOG_LEVEL"), "info"),
		Qwen: QwenDefaults{
			APIKey:           trimEnv("QWEN_API_KEY"),
			BaseURL:          firstNonEmpty(trimEnv("QWEN_BASE_URL"), "https://dashscope.aliyuncs.com/compatible-mode/v1"),
			ModelName:        firstNonEmpty(trimEnv("QWEN_MODEL_NAME"), defaultModelName),
			Temperature:      defaultTemperature,
			MaxTokens:        defaultMaxTokens,
			TopP:             defaultTopP,
			FrequencyPenalty: defaultFrequencyPenalty,
		},
		QualityThreshold: defaultQualityThreshold,
		Obs: ObsConfig{
			ServiceName:    firstNonEmpty(trimEnv("OTEL_SERVICE_NAME"), "analyst-engine"),
			ServiceVersion: firstNonEmpty(trimEnv("SERVICE_VERSION"), "dev"),
			Environment:    firstNonEmpty(trimEnv("APP_ENV"), "development"),
			OTLP:           trimEnv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		Anthropic: AnthropicConfig{
			APIKey:  trimEnv("ANTHROPIC_API_KEY"),
			BaseURL: trimEnv("ANTHROPIC_BASE_URL"),
			Model:   trimEnv("ANTHROPIC_MODEL"),
		},
	}

	if v := trimEnv("MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Qwen.MaxTokens = n
		}
	}
	if v := trimEnv("QWEN_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Qwen.MaxTokens = n
		}
	}
	if v := trimEnv("QWEN_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Qwen.Temperature = f
		}
	}
	if v := trimEnv("QWEN_TOP_P"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Qwen.TopP = f
		}
	}
	if v := trimEnv("QWEN_FREQUENCY_PENALTY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Qwen.FrequencyPenalty = f
		}
	}
	if v := trimEnv("QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.QualityThreshold = f
		}
	}

	return cfg, nil
}

func trimEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
