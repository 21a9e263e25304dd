package config

// Settings is the per-request configuration object the client supplies
// alongside a request. It is an explicit, immutable value threaded through
// every planner/executor/evaluator/reporter call; nothing reads process
// environment state mid-request.
type Settings struct {
	ModelName         string  `json:"modelName,omitempty"`
	BaseURL           string  `json:"baseUrl,omitempty"`
	APIKey            string  `json:"apiKey,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int    `json:"maxTokens,omitempty"`
	TopP              *float64 `json:"topP,omitempty"`
	FrequencyPenalty  *float64 `json:"frequencyPenalty,omitempty"`

	MaxIterations      int  `json:"maxIterations,omitempty"`
	QualityThreshold   float64 `json:"qualityThreshold,omitempty"`
	EarlyStopThreshold float64 `json:"earlyStopThreshold,omitempty"`
	OutputAsTable      bool `json:"outputAsTable,omitempty"`
	StepByStep         bool `json:"stepByStep,omitempty"`
}

const (
	DefaultMaxIterations      = 5
	DefaultQualityThreshold   = 0.7
	DefaultEarlyStopThreshold = 0.85
)

// Resolved merges a request Settings value with process defaults, filling
// every zero-valued field. The result is what gets threaded through the
// orchestrator for a single request.
type Resolved struct {
	ModelName          string
	BaseURL            string
	APIKey             string
	Temperature        float64
	MaxTokens          int
	TopP               float64
	FrequencyPenalty   float64
	MaxIterations      int
	QualityThreshold   float64
	EarlyStopThreshold float64
	OutputAsTable      bool
	StepByStep         bool
}

// Resolve fills s against cfg's process defaults, producing a fully
// populated, immutable Resolved value for a single request.
func (s Settings) Resolve(cfg *Config) Resolved {
	r := Resolved{
		ModelName:          firstNonEmpty(s.ModelName, cfg.Qwen.ModelName),
		BaseURL:            firstNonEmpty(s.BaseURL, cfg.Qwen.BaseURL),
		APIKey:             firstNonEmpty(s.APIKey, cfg.Qwen.APIKey),
		Temperature:        orFloat(s.Temperature, cfg.Qwen.Temperature),
		MaxTokens:          orInt(s.MaxTokens, cfg.Qwen.MaxTokens),
		TopP:               orFloat(s.TopP, cfg.Qwen.TopP),
		FrequencyPenalty:   orFloat(s.FrequencyPenalty, cfg.Qwen.FrequencyPenalty),
		MaxIterations:      s.MaxIterations,
		QualityThreshold:   s.QualityThreshold,
		EarlyStopThreshold: s.EarlyStopThreshold,
		OutputAsTable:      s.OutputAsTable,
		StepByStep:         s.StepByStep,
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = DefaultMaxIterations
	}
	if r.QualityThreshold <= 0 {
		r.QualityThreshold = firstPositive(cfg.QualityThreshold, DefaultQualityThreshold)
	}
	if r.EarlyStopThreshold <= 0 {
		r.EarlyStopThreshold = DefaultEarlyStopThreshold
	}
	return r
}

func orFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
