// Package evaluator implements the Evaluator (component C8): scoring a
// Results set against the request and deciding whether the loop should
// replan. Grounded on the teacher's internal/agent.LLMCritic (an LLM call
// that judges a trace and returns approve/revise), generalized from a
// two-way verdict into the quality_score/success/next_actions shape spec.md
// §4.8 requires, with the planner's JSON-salvage parsing reused verbatim
// in spirit.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"analystengine/internal/config"
	"analystengine/internal/llm"
	"analystengine/internal/observability"
	"analystengine/internal/session"
)

// Request bundles what Evaluate needs to judge one iteration's Results.
type Request struct {
	OriginalQuery string
	Plan          session.Plan
	Results       session.Results
	Settings      config.Resolved
}

// Evaluator is C8.
type Evaluator struct {
	Provider llm.Provider
}

func New(provider llm.Provider) *Evaluator {
	return &Evaluator{Provider: provider}
}

// Evaluate asks the provider to judge req.Results and returns the resulting
// Observation. A provider call or parse failure never aborts the
// orchestrator's loop: it is folded into a conservative Observation that
// reports failure and asks for a replan (spec.md §4.8's "evaluator failure
// is itself an observation" rule).
func (ev *Evaluator) Evaluate(ctx context.Context, req Request) session.Observation {
	log := observability.LoggerWithTrace(ctx)

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

	text, err := ev.Provider.Complete(ctx, prompt, params)
	if err != nil {
		log.Warn().Err(err).Msg("evaluator_provider_failed")
		return failureObservation(req.Results, err.Error())
	}

	obs, perr := parseObservation(text, req.Results)
	if perr != nil {
		log.Warn().Err(perr).Msg("evaluator_parse_failed")
		return failureObservation(req.Results, perr.Error())
	}

	obs.NeedsReplan = needsReplan(obs, req.Settings.QualityThreshold)
	return obs
}

// needsReplan implements spec.md §4.8's replan policy: a low quality score,
// an explicit evaluator failure verdict, or any outstanding next_actions all
// independently trigger a replan.
func needsReplan(obs session.Observation, qualityThreshold float64) bool {
	return obs.QualityScore < qualityThreshold || !obs.Success || len(obs.NextActions) > 0
}

func failureObservation(results session.Results, reason string) session.Observation {
	return session.Observation{
		Results:      results,
		QualityScore: 0,
		Success:      false,
		Feedback:     reason,
		NextActions:  []string{"replan"},
		NeedsReplan:  true,
	}
}

type wireObservation struct {
	QualityScore      float64  `json:"quality_score"`
	MeetsRequirements bool     `json:"meets_requirements"`
	Feedback          string   `json:"feedback"`
	Success           bool     `json:"success"`
	NextActions       []string `json:"next_actions"`
}

func parseObservation(text string, results session.Results) (session.Observation, error) {
	body := extractJSONObject(text)
	if body == "" {
		return session.Observation{}, fmt.Errorf("evaluator: no JSON object in response")
	}
	var wo wireObservation
	if err := json.Unmarshal([]byte(body), &wo); err != nil {
		return session.Observation{}, fmt.Errorf("evaluator: %w", err)
	}

	return session.Observation{
		Results:      results,
		QualityScore: clamp01(wo.QualityScore),
		Success:      wo.Success && wo.MeetsRequirements,
		Feedback:     wo.Feedback,
		NextActions:  wo.NextActions,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are grading a data-analysis result set against the original request. ")
	b.WriteString("Produce a JSON object with fields ")
	b.WriteString(`{"quality_score": number 0-1, "meets_requirements": bool, "feedback": string, "success": bool, "next_actions": [string]}.` + "\n\n")

	fmt.Fprintf(&b, "Original request: %s\n", req.OriginalQuery)
	fmt.Fprintf(&b, "Plan task_type: %s\n", req.Plan.TaskType)
	fmt.Fprintf(&b, "Expected output: %s\n\n", req.Plan.ExpectedOutput)

	b.WriteString("Results:\n")
	for key, val := range req.Results {
		if msg, isErr := session.IsError(val); isErr {
			fmt.Fprintf(&b, "- %s: ERROR: %s\n", key, msg)
			continue
		}
		fmt.Fprintf(&b, "- %s: %v\n", key, val)
	}

	b.WriteString("\nRespond with ONLY the JSON object, no surrounding prose.")
	return b.String()
}
