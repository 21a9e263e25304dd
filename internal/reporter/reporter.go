// Package reporter implements the Reporter (component C9): turning a
// session's final Results and Observation into a prose/Markdown report for
// the end user. Grounded on the planner's and evaluator's prompt-then-call
// shape, generalized to a free-text (not JSON) response since a report has
// no further machine consumer.
package reporter

import (
	"context"
	"fmt"
	"strings"

	"analystengine/internal/config"
	"analystengine/internal/llm"
	"analystengine/internal/session"
)

// Request bundles what Report needs to narrate one session's outcome.
type Request struct {
	OriginalQuery string
	Plan          session.Plan
	Results       session.Results
	Observation   session.Observation
	Settings      config.Resolved
}

// Reporter is C9.
type Reporter struct {
	Provider llm.Provider
}

func New(provider llm.Provider) *Reporter {
	return &Reporter{Provider: provider}
}

// Report asks the provider for the final prose/Markdown report. On a
// provider failure it falls back to a minimal report assembled directly
// from req.Results, so a broken LLM call never leaves a session without any
// user-visible output.
func (r *Reporter) Report(ctx context.Context, req Request) (string, error) {
	prompt := buildPrompt(req)
	params := llm.Params{
		Model:            req.Settings.ModelName,
		Temperature:      req.Settings.Temperature,
		MaxTokens:        req.Settings.MaxTokens,
		TopP:             req.Settings.TopP,
		FrequencyPenalty: req.Settings.FrequencyPenalty,
		APIKey:           req.Settings.APIKey,
		BaseURL:          req.Settings.BaseURL,
	}

	text, err := r.Provider.Complete(ctx, prompt, params)
	if err != nil {
		return fallbackReport(req), nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallbackReport(req), nil
	}
	return text, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are writing the final report for a data-analysis session. Write a ")
	b.WriteString("Markdown report covering: indicator performance, findings, insights, business ")
	b.WriteString("impact, recommendations, and risks. Include the report generation date as a ")
	b.WriteString("heading placeholder.\n\n")
	if req.Settings.OutputAsTable {
		b.WriteString("Favor Markdown tables over prose lists wherever the findings are tabular.\n\n")
	}

	fmt.Fprintf(&b, "Original request: %s\n", req.OriginalQuery)
	fmt.Fprintf(&b, "Task type: %s\n", req.Plan.TaskType)
	fmt.Fprintf(&b, "Quality score: %.2f\n", req.Observation.QualityScore)
	if req.Observation.Feedback != "" {
		fmt.Fprintf(&b, "Evaluator feedback: %s\n", req.Observation.Feedback)
	}

	b.WriteString("\nResults:\n")
	for key, val := range req.Results {
		if msg, isErr := session.IsError(val); isErr {
			fmt.Fprintf(&b, "- %s: error: %s\n", key, msg)
			continue
		}
		fmt.Fprintf(&b, "- %s: %v\n", key, val)
	}
	return b.String()
}

// fallbackReport assembles a minimal report directly from req.Results when
// the provider call fails or returns nothing usable.
func fallbackReport(req Request) string {
	var b strings.Builder
	b.WriteString("# Analysis Report\n\n")
	fmt.Fprintf(&b, "**Request:** %s\n\n", req.OriginalQuery)
	b.WriteString("## Results\n\n")
	for key, val := range req.Results {
		if msg, isErr := session.IsError(val); isErr {
			fmt.Fprintf(&b, "- **%s**: error: %s\n", key, msg)
			continue
		}
		fmt.Fprintf(&b, "- **%s**: %v\n", key, val)
	}
	if req.Observation.Feedback != "" {
		fmt.Fprintf(&b, "\n## Notes\n\n%s\n", req.Observation.Feedback)
	}
	return b.String()
}
