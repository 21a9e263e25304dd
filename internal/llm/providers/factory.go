// Package providers selects among the default OpenAI-compatible client and
// the Anthropic/Gemini alternate backends by model name prefix, the same
// switch-on-provider-name shape used elsewhere in this stack's client
// wiring.
package providers

import (
	"context"
	"strings"

	"analystengine/internal/config"
	"analystengine/internal/llm"
)

// Dispatcher routes a call to the backend matching its Params.Model prefix,
// falling back to the default OpenAI-compatible client.
type Dispatcher struct {
	Default   llm.Provider
	Anthropic llm.Provider
	Google    llm.Provider
}

// Build wires every backend this process has credentials for. Backends
// without credentials are left nil and are skipped by Dispatcher's routing.
func Build(ctx context.Context, cfg *config.Config) (*Dispatcher, error) {
	d := &Dispatcher{Default: llm.NewClient()}

	if cfg.Anthropic.APIKey != "" {
		d.Anthropic = NewAnthropic(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)
	}

	return d, nil
}

// WithGoogle lazily attaches a Gemini backend; separated from Build because
// genai.NewClient performs network-adjacent setup best done once a caller
// actually needs it.
func (d *Dispatcher) WithGoogle(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return nil
	}
	g, err := NewGoogle(ctx, apiKey)
	if err != nil {
		return err
	}
	d.Google = g
	return nil
}

func (d *Dispatcher) route(model string) llm.Provider {
	switch {
	case strings.HasPrefix(model, "claude-") && d.Anthropic != nil:
		return d.Anthropic
	case strings.HasPrefix(model, "gemini-") && d.Google != nil:
		return d.Google
	default:
		return d.Default
	}
}

var _ llm.Provider = (*Dispatcher)(nil)

func (d *Dispatcher) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	return d.route(params.Model).Complete(ctx, query, params)
}

func (d *Dispatcher) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	return d.route(params.Model).Stream(ctx, query, params)
}

func (d *Dispatcher) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	return d.route(params.Model).Embed(ctx, text, params)
}
