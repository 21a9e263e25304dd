package providers

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"analystengine/internal/llm"
)

// AnthropicProvider adapts the Claude SDK to the llm.Provider interface, for
// requests whose model name is prefixed "claude-".
type AnthropicProvider struct {
	sdk anthropic.Client
}

func NewAnthropic(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &AnthropicProvider{sdk: anthropic.NewClient(opts...)}
}

var _ llm.Provider = (*AnthropicProvider)(nil)

func (p *AnthropicProvider) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	params = params.Normalize()
	msgs := make([]anthropic.MessageParam, 0, len(params.History)+1)
	for _, m := range params.History {
		if string(m.Role) == "user" {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(query)))

	resp, err := p.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		Messages:  msgs,
		MaxTokens: int64(params.MaxTokens),
	})
	if err != nil {
		return "", &llm.Error{Kind: "status", Err: err}
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	text, err := p.Complete(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return &wholeTextStream{text: text}, nil
}

func (p *AnthropicProvider) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	return nil, errors.New("anthropic: embeddings unsupported")
}

// wholeTextStream adapts a single complete response to the Stream interface
// for backends whose SDK does not expose incremental text deltas in the
// shape this system wants to multiplex on the event tape.
type wholeTextStream struct {
	text string
	sent bool
}

func (w *wholeTextStream) Next() (string, bool, error) {
	if w.sent {
		return "", false, nil
	}
	w.sent = true
	return w.text, true, nil
}

func (w *wholeTextStream) Cancel() {}
