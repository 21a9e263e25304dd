package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"analystengine/internal/observability"
	"analystengine/internal/session"
)

// Client is a Go-native OpenAI-compatible HTTP client. It talks to any
// backend exposing the /chat/completions and /embeddings surface: Bailian
// (Qwen, the default), OpenAI itself, DeepSeek, Ollama, vLLM, and similar.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with a connection-pooled, otelhttp-instrumented
// transport.
func NewClient() *Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
	}
	base := &http.Client{Transport: transport}
	return &Client{httpClient: observability.NewHTTPClient(base)}
}

var _ Provider = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	MaxTokens        int           `json:"max_tokens"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	Stream           bool          `json:"stream"`
	EnableThinking   bool          `json:"enable_thinking,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func buildMessages(history []session.Message, query string) []chatMessage {
	out := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	out = append(out, chatMessage{Role: "user", Content: query})
	return out
}

func (c *Client) endpoint(baseURL, path string) string {
	return strings.TrimSuffix(baseURL, "/") + path
}

func (c *Client) newRequest(ctx context.Context, params Params, body chatRequest) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: "malformed", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(params.BaseURL, "/chat/completions"), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+params.APIKey)
	return req, nil
}

// Complete performs a blocking chat completion.
func (c *Client) Complete(ctx context.Context, query string, params Params) (string, error) {
	params = params.Normalize()
	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	body := chatRequest{
		Model:            params.Model,
		Messages:         buildMessages(params.History, query),
		Temperature:      params.Temperature,
		MaxTokens:        params.MaxTokens,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		EnableThinking:   params.EnableThinking,
	}

	req, err := c.newRequest(ctx, params, body)
	if err != nil {
		return "", err
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: "timeout", Err: err}
		}
		return "", &Error{Kind: "status", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: "malformed", Err: err}
	}
	log.Debug().Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Str("model", params.Model).Msg("llm_complete")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Kind: "status", Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &Error{Kind: "malformed", Body: string(raw), Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Kind: "malformed", Body: string(raw), Err: fmt.Errorf("no choices in response")}
	}
	content := parsed.Choices[0].Message.Content
	if content == "" {
		return "", &Error{Kind: "malformed", Body: string(raw), Err: fmt.Errorf("no content in response")}
	}
	return content, nil
}

// Stream performs a streaming chat completion.
func (c *Client) Stream(ctx context.Context, query string, params Params) (Stream, error) {
	params = params.Normalize()
	streamCtx, cancel := context.WithTimeout(ctx, params.Timeout)

	body := chatRequest{
		Model:            params.Model,
		Messages:         buildMessages(params.History, query),
		Temperature:      params.Temperature,
		MaxTokens:        params.MaxTokens,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		EnableThinking:   params.EnableThinking,
		Stream:           true,
	}

	req, err := c.newRequest(streamCtx, params, body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		if streamCtx.Err() != nil {
			return nil, &Error{Kind: "timeout", Err: err}
		}
		return nil, &Error{Kind: "status", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &Error{Kind: "status", Status: resp.StatusCode, Body: string(raw)}
	}

	return newHTTPStream(streamCtx, cancel, resp.Body), nil
}

// Embed returns the embedding vector for text, via the openai-go SDK
// rather than the hand-rolled HTTP path Complete/Stream use: the
// embeddings endpoint has no SSE framing contract to honor byte-for-byte,
// so there is nothing the hand-rolled path buys over the library's request
// building, retry-on-429 and error typing.
func (c *Client) Embed(ctx context.Context, text string, params Params) ([]float32, error) {
	params = params.Normalize()
	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	opts := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
		option.WithHTTPClient(c.httpClient),
	}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(opts...)

	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(params.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: "timeout", Err: err}
		}
		return nil, &Error{Kind: "status", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Kind: "malformed", Err: fmt.Errorf("no embedding data in response")}
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
