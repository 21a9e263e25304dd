package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analystengine/internal/config"
	"analystengine/internal/llm"
	"analystengine/internal/plancache"
	"analystengine/internal/session"
	"analystengine/internal/tape"
)

// scriptedProvider dispatches a canned response by sniffing a marker phrase
// unique to each component's prompt (planner/executor/evaluator/reporter),
// so a single fake stands in for the whole pipeline a real request would
// exercise.
type scriptedProvider struct {
	planResponse     string
	fragmentResponse string
	evalResponses    []string
	evalCall         int
	reportResponse   string
	replyChunks      []string
}

func (p *scriptedProvider) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	switch {
	case strings.Contains(query, "data-analysis planner"):
		return p.planResponse, nil
	case strings.Contains(query, "sandbox dialect"):
		return p.fragmentResponse, nil
	case strings.Contains(query, "grading a data-analysis"):
		r := p.evalResponses[p.evalCall]
		if p.evalCall < len(p.evalResponses)-1 {
			p.evalCall++
		}
		return r, nil
	case strings.Contains(query, "final report"):
		return p.reportResponse, nil
	default:
		return "", nil
	}
}

func (p *scriptedProvider) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	return &fakeStream{chunks: p.replyChunks}, nil
}

func (p *scriptedProvider) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	return nil, nil
}

type fakeStream struct {
	chunks []string
	idx    int
}

func (s *fakeStream) Next() (string, bool, error) {
	if s.idx >= len(s.chunks) {
		return "", false, nil
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, true, nil
}
func (s *fakeStream) Cancel() {}

func drain(t *tape.Tape) []tape.Event {
	var events []tape.Event
	for ev := range t.Events() {
		events = append(events, ev)
	}
	return events
}

func settingsFixture() config.Resolved {
	return config.Resolved{
		MaxIterations:      5,
		QualityThreshold:   0.7,
		EarlyStopThreshold: 0.85,
		MaxTokens:          4096,
	}
}

func TestRun_EmptyInputEmitsErrorEventBeforeAnyStep(t *testing.T) {
	o := New(&scriptedProvider{}, plancache.New(10, time.Hour))
	tp := tape.New(16)

	go o.Run(context.Background(), "", "", nil, settingsFixture(), tp)
	events := drain(tp)

	require.Len(t, events, 1)
	assert.True(t, events[0].IsErr)
}

func TestRun_BypassChatRoutesWhenNoDocumentAndNoKeyword(t *testing.T) {
	provider := &scriptedProvider{replyChunks: []string{"Hello", " there"}}
	o := New(provider, plancache.New(10, time.Hour))
	tp := tape.New(16)

	go o.Run(context.Background(), "Hello", "", nil, settingsFixture(), tp)
	events := drain(tp)

	require.Len(t, events, 2)
	assert.True(t, events[0].IsReply)
	assert.Equal(t, "Hello", events[0].Reply)
	assert.Equal(t, " there", events[1].Reply)
}

func TestRun_SinglePassAcceptEmitsPlanComputeObserveReport(t *testing.T) {
	provider := &scriptedProvider{
		planResponse:     `{"task_type":"summary","operations":[{"name":"sum","column":"sales"}],"expected_output":"total"}`,
		fragmentResponse: `D.Sum("sales")`,
		evalResponses:    []string{`{"quality_score":0.95,"meets_requirements":true,"success":true,"next_actions":[]}`},
		reportResponse:   "# Report\n\nDone.",
	}
	o := New(provider, plancache.New(10, time.Hour))
	tp := tape.New(16)

	document := "date|sales\n2023-01|100\n2023-02|200"
	go o.Run(context.Background(), "Sum sales", document, nil, settingsFixture(), tp)
	events := drain(tp)

	require.Len(t, events, 4)
	assert.Equal(t, tape.StepPlan, events[0].Kind)
	assert.Equal(t, tape.StepCompute, events[1].Kind)
	assert.Equal(t, tape.StepObserve, events[2].Kind)
	assert.Equal(t, tape.StepReport, events[3].Kind)

	results, ok := events[1].Result.(session.Results)
	require.True(t, ok)
	assert.Equal(t, 300.0, results["sales_sum"])
}

func TestRun_IterationCapStopsAtMaxIterations(t *testing.T) {
	provider := &scriptedProvider{
		planResponse:     `{"task_type":"summary","operations":[{"name":"sum","column":"sales"}],"expected_output":"total"}`,
		fragmentResponse: `D.Sum("sales")`,
		evalResponses:    []string{`{"quality_score":0.3,"meets_requirements":false,"success":true,"next_actions":["add mean"]}`},
		reportResponse:   "# Report\n\nPartial.",
	}
	o := New(provider, nil)
	tp := tape.New(32)

	settings := settingsFixture()
	settings.MaxIterations = 3

	document := "date|sales\n2023-01|100"
	go o.Run(context.Background(), "Sum sales", document, nil, settings, tp)
	events := drain(tp)

	var plans, computes, observes, reports int
	for _, ev := range events {
		switch ev.Kind {
		case tape.StepPlan:
			plans++
		case tape.StepCompute:
			computes++
		case tape.StepObserve:
			observes++
		case tape.StepReport:
			reports++
		}
	}
	assert.Equal(t, 3, plans)
	assert.Equal(t, 3, computes)
	assert.Equal(t, 3, observes)
	assert.Equal(t, 1, reports)
}

func TestRun_ConsumerCancelStopsFurtherEvents(t *testing.T) {
	provider := &scriptedProvider{
		planResponse:     `{"task_type":"summary","operations":[{"name":"sum","column":"sales"}],"expected_output":"total"}`,
		fragmentResponse: `D.Sum("sales")`,
		evalResponses:    []string{`{"quality_score":0.3,"meets_requirements":false,"success":true,"next_actions":["add mean"]}`},
		reportResponse:   "# Report\n\nPartial.",
	}
	o := New(provider, nil)
	tp := tape.New(16)

	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), "Sum sales", "date|sales\n2023-01|100", nil, settingsFixture(), tp)
		close(done)
	}()

	ev, ok := <-tp.Events()
	require.True(t, ok)
	assert.Equal(t, tape.StepPlan, ev.Kind)

	tp.Cancel()
	<-done
}
