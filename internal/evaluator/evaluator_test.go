package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analystengine/internal/config"
	"analystengine/internal/llm"
	"analystengine/internal/session"
)

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	return f.response, f.err
}
func (f *fakeProvider) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	return nil, nil
}
func (f *fakeProvider) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	return nil, nil
}

func TestEvaluate_HighQualityScoreAndSuccessSkipsReplan(t *testing.T) {
	provider := &fakeProvider{response: `{"quality_score":0.9,"meets_requirements":true,"feedback":"looks good","success":true,"next_actions":[]}`}
	ev := New(provider)

	obs := ev.Evaluate(context.Background(), Request{
		Settings: config.Resolved{QualityThreshold: 0.7},
		Results:  session.Results{"sales_sum": 350.0},
	})
	assert.Equal(t, 0.9, obs.QualityScore)
	assert.True(t, obs.Success)
	assert.False(t, obs.NeedsReplan)
}

func TestEvaluate_BelowThresholdTriggersReplan(t *testing.T) {
	provider := &fakeProvider{response: `{"quality_score":0.3,"meets_requirements":false,"feedback":"missing mean","success":true,"next_actions":["add mean"]}`}
	ev := New(provider)

	obs := ev.Evaluate(context.Background(), Request{Settings: config.Resolved{QualityThreshold: 0.7}})
	assert.True(t, obs.NeedsReplan)
	assert.Equal(t, []string{"add mean"}, obs.NextActions)
}

func TestEvaluate_QualityScoreClampedToUnitRange(t *testing.T) {
	provider := &fakeProvider{response: `{"quality_score":1.5,"meets_requirements":true,"success":true}`}
	ev := New(provider)

	obs := ev.Evaluate(context.Background(), Request{Settings: config.Resolved{QualityThreshold: 0.7}})
	assert.Equal(t, 1.0, obs.QualityScore)
}

func TestEvaluate_ProviderErrorYieldsFailureObservation(t *testing.T) {
	provider := &fakeProvider{err: assert.AnError}
	ev := New(provider)

	obs := ev.Evaluate(context.Background(), Request{Settings: config.Resolved{QualityThreshold: 0.7}})
	require.False(t, obs.Success)
	assert.Equal(t, 0.0, obs.QualityScore)
	assert.True(t, obs.NeedsReplan)
	assert.Contains(t, obs.NextActions, "replan")
}

func TestEvaluate_MalformedJSONYieldsFailureObservation(t *testing.T) {
	provider := &fakeProvider{response: "not json"}
	ev := New(provider)

	obs := ev.Evaluate(context.Background(), Request{Settings: config.Resolved{QualityThreshold: 0.7}})
	require.False(t, obs.Success)
	assert.True(t, obs.NeedsReplan)
}

func TestEvaluate_FencedJSONParses(t *testing.T) {
	provider := &fakeProvider{response: "```json\n{\"quality_score\":0.8,\"meets_requirements\":true,\"success\":true}\n```"}
	ev := New(provider)

	obs := ev.Evaluate(context.Background(), Request{Settings: config.Resolved{QualityThreshold: 0.7}})
	assert.Equal(t, 0.8, obs.QualityScore)
	assert.False(t, obs.NeedsReplan)
}
