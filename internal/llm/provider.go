// Package llm implements the blocking, streaming and embedding chat client
// (component C1) plus the alternate Anthropic/Gemini backends wired in
// internal/llm/providers. The default backend is a hand-rolled OpenAI-compatible
// HTTP+SSE client: the exact line-prefix parsing, "[DONE]" termination and
// delta.content extraction this system depends on are part of its observable
// contract, so a client backed by a heavier SDK would hide rather than
// satisfy it.
package llm

import (
	"context"
	"time"

	"analystengine/internal/session"
)

// Params configures a single Complete/Stream/Embed call. Every numeric field
// is clamped to its documented range before use; zero values take the
// documented default.
type Params struct {
	Model             string
	Temperature       float64
	MaxTokens         int
	TopP              float64
	FrequencyPenalty  float64
	APIKey            string
	BaseURL           string
	History           []session.Message
	EnableThinking    bool
	// Timeout bounds a single call; zero uses DefaultTimeout.
	Timeout time.Duration
}

// Defaults and clamp ranges from the external contract this client honors.
const (
	DefaultModel            = "qwen-max"
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 8192
	DefaultTopP             = 0.9
	DefaultFrequencyPenalty = 0.5
	DefaultTimeout          = 120 * time.Second
	DefaultEnableThinking   = true

	minTemperature = 0.0
	maxTemperature = 2.0
	minMaxTokens   = 1
	maxMaxTokens   = 8192
	minTopP        = 0.0
	maxTopP        = 1.0
	minFreqPenalty = -2.0
	maxFreqPenalty = 2.0
)

// Normalize fills defaults and clamps every bounded field, returning a copy
// safe to pass to a Provider call.
func (p Params) Normalize() Params {
	out := p
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Temperature == 0 {
		out.Temperature = DefaultTemperature
	}
	out.Temperature = clamp(out.Temperature, minTemperature, maxTemperature)

	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	out.MaxTokens = clampInt(out.MaxTokens, minMaxTokens, maxMaxTokens)

	if out.TopP == 0 {
		out.TopP = DefaultTopP
	}
	out.TopP = clamp(out.TopP, minTopP, maxTopP)

	if out.FrequencyPenalty == 0 {
		out.FrequencyPenalty = DefaultFrequencyPenalty
	}
	out.FrequencyPenalty = clamp(out.FrequencyPenalty, minFreqPenalty, maxFreqPenalty)

	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}

	if !out.EnableThinking {
		out.EnableThinking = DefaultEnableThinking
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Provider is the interface every backend (hand-rolled OpenAI-compatible,
// Anthropic, Gemini) implements.
type Provider interface {
	// Complete performs a blocking chat completion.
	Complete(ctx context.Context, query string, params Params) (string, error)
	// Stream performs a streaming chat completion. The returned Stream must
	// be drained with Next until it reports done, or explicitly Cancelled.
	Stream(ctx context.Context, query string, params Params) (Stream, error)
	// Embed returns the embedding vector for text. Backends without an
	// embeddings endpoint return a non-nil error.
	Embed(ctx context.Context, text string, params Params) ([]float32, error)
}

// Stream is a lazy, finite, non-restartable sequence of text chunks from a
// streaming completion. The consumer owns its lifetime and must call Cancel
// if it stops draining early.
type Stream interface {
	// Next blocks for the next chunk. ok is false once the stream is
	// exhausted (a nil error) or failed (a non-nil error).
	Next() (chunk string, ok bool, err error)
	// Cancel aborts the in-flight HTTP request and releases resources.
	Cancel()
}
