package providers

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"analystengine/internal/llm"
)

// GoogleProvider adapts the Gemini SDK to the llm.Provider interface, for
// requests whose model name is prefixed "gemini-".
type GoogleProvider struct {
	client *genai.Client
}

func NewGoogle(ctx context.Context, apiKey string) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GoogleProvider{client: client}, nil
}

var _ llm.Provider = (*GoogleProvider)(nil)

func (p *GoogleProvider) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	params = params.Normalize()
	resp, err := p.client.Models.GenerateContent(ctx, params.Model, genai.Text(query), nil)
	if err != nil {
		return "", &llm.Error{Kind: "status", Err: err}
	}
	return resp.Text(), nil
}

func (p *GoogleProvider) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	text, err := p.Complete(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return &wholeTextStream{text: text}, nil
}

func (p *GoogleProvider) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	params = params.Normalize()
	resp, err := p.client.Models.EmbedContent(ctx, params.Model, genai.Text(text), nil)
	if err != nil {
		return nil, &llm.Error{Kind: "status", Err: err}
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("google: empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}
