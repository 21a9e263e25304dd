package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analystengine/internal/llm"
	"analystengine/internal/session"
)

type fakeProvider struct {
	completeFn func(ctx context.Context, query string, params llm.Params) (string, error)
}

func (f *fakeProvider) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	return f.completeFn(ctx, query, params)
}
func (f *fakeProvider) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	return nil, nil
}
func (f *fakeProvider) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	return nil, nil
}

func TestEstimateTokens_CJKWeightedHigherThanASCII(t *testing.T) {
	ascii := EstimateTokens("abcd")
	cjk := EstimateTokens("中文字符")
	assert.InDelta(t, 1.0, ascii, 0.001)
	assert.InDelta(t, 6.0, cjk, 0.001)
}

func TestCompress_UnchangedWhenUnderBudget(t *testing.T) {
	hist := []session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Content: "hello"},
	}
	c := NewCompressor(nil)
	out := c.Compress(context.Background(), hist, 1000, 0.7, llm.Params{})
	require.Equal(t, hist, out)
}

func TestCompress_TruncatesWithoutSummarizingWhenModest(t *testing.T) {
	var hist []session.Message
	// 60 ASCII chars = 15 tokens each; truncation keeps 4 messages (60
	// tokens), which does not exceed the 60% summarize threshold of 100.
	for i := 0; i < 50; i++ {
		hist = append(hist, session.Message{Role: session.RoleUser, Content: strings.Repeat("a", 60)})
	}
	c := NewCompressor(nil)
	out := c.Compress(context.Background(), hist, 100, 0.7, llm.Params{})
	assert.Less(t, len(out), len(hist))
}

func TestCompress_SummarizesWhenTruncationInsufficient(t *testing.T) {
	var hist []session.Message
	for i := 0; i < 200; i++ {
		hist = append(hist, session.Message{Role: session.RoleUser, Content: strings.Repeat("中", 50)})
	}
	provider := &fakeProvider{completeFn: func(ctx context.Context, query string, params llm.Params) (string, error) {
		return "short factual summary", nil
	}}
	c := NewCompressor(provider)
	out := c.Compress(context.Background(), hist, 100, 0.7, llm.Params{})
	require.Len(t, out, 2)
	assert.Equal(t, session.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "summary: short factual summary")
	assert.Equal(t, hist[len(hist)-1], out[1])
}

func TestCompress_FallsBackToTruncatedOnProviderError(t *testing.T) {
	var hist []session.Message
	for i := 0; i < 200; i++ {
		hist = append(hist, session.Message{Role: session.RoleUser, Content: strings.Repeat("中", 50)})
	}
	provider := &fakeProvider{completeFn: func(ctx context.Context, query string, params llm.Params) (string, error) {
		return "", assertErr
	}}
	c := NewCompressor(provider)
	out := c.Compress(context.Background(), hist, 100, 0.7, llm.Params{})
	assert.Equal(t, hist[len(hist)-1:], out)
}

var assertErr = &llm.Error{Kind: "status", Status: 500}
