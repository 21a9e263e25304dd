// Package planner implements the Planner (component C6): turning a request,
// a document preview and prior plan/evaluation feedback into a structured
// Plan, consulting the Plan Cache first and falling back to a minimal
// "basic" plan when the LLM's JSON response doesn't parse. Grounded on the
// teacher's internal/agent.LLMPlanner (system-prompt-with-tool-specs,
// strict JSON response, uuid-stamped output) and internal/agent/engine.go's
// "augment messages with prior context" shape for the replanning case.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"analystengine/internal/config"
	"analystengine/internal/llm"
	"analystengine/internal/observability"
	"analystengine/internal/plancache"
	"analystengine/internal/session"
	"analystengine/internal/table"
)

// Request bundles everything Plan needs: the user's request, the (token-
// bounded) document preview used for prompting, the full document used only
// for the Plan Cache key (spec.md §4.5 fixes the key on hash(document_full),
// not the trimmed preview two distinct documents can share), resolved
// settings, full plan history so far, and — for a replan — the last
// Observation to derive an improvement block from.
type Request struct {
	Text            string
	DocumentPreview string
	DocumentFull    string
	Settings        config.Resolved
	PlanHistory     []session.Plan
	LastObservation *session.Observation
	IsReplan        bool
}

// Planner is C6.
type Planner struct {
	Provider llm.Provider
	Cache    *plancache.Cache
}

func New(provider llm.Provider, cache *plancache.Cache) *Planner {
	return &Planner{Provider: provider, Cache: cache}
}

// Plan consults the Plan Cache first (never on a replan — spec.md's cache
// key has no room for "this is attempt N", and a replan is by definition a
// response to the cached plan having proven insufficient); on a miss it
// prompts the provider, parses the JSON response into a Plan, and writes a
// successful plan back to the cache.
func (p *Planner) Plan(ctx context.Context, req Request) (session.Plan, error) {
	log := observability.LoggerWithTrace(ctx)

	key := plancache.Fingerprint(req.Text, plancache.HashDocument(req.DocumentFull), taskTag(req))
	if !req.IsReplan && p.Cache != nil {
		if cached, ok := p.Cache.Get(key); ok {
			log.Debug().Str("cache_key", string(key)).Msg("plan_cache_hit")
			return cached, nil
		}
	}

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

	text, err := p.Provider.Complete(ctx, prompt, params)
	if err != nil {
		return session.Plan{}, err
	}

	plan, perr := parsePlan(text)
	if perr != nil {
		log.Warn().Err(perr).Msg("planner_parse_failed_using_fallback")
		return fallbackPlan(perr), nil
	}

	if p.Cache != nil {
		p.Cache.Set(key, plan)
	}
	return plan, nil
}

func taskTag(req Request) string {
	if len(req.PlanHistory) == 0 {
		return "initial"
	}
	return req.PlanHistory[len(req.PlanHistory)-1].TaskType
}

// fallbackPlan is the Plan spec.md's Glossary names for a JSON-parse
// failure: task_type "basic", no operations, annotated so the loop's next
// evaluate pass will normally score it low and trigger a replan.
func fallbackPlan(cause error) session.Plan {
	return session.Plan{
		TaskType:  "basic",
		Rationale: fmt.Sprintf("fallback plan: %v", cause),
		Fallback:  true,
	}
}

type wirePlan struct {
	TaskType       string           `json:"task_type"`
	Columns        []string         `json:"columns"`
	Operations     []wireOperation  `json:"operations"`
	ExpectedOutput string           `json:"expected_output"`
	Rationale      string           `json:"rationale"`
}

type wireOperation struct {
	Name        string            `json:"name"`
	Column      session.ColumnRef `json:"column"`
	Description string            `json:"description"`
}

func parsePlan(text string) (session.Plan, error) {
	body := extractJSONObject(text)
	if body == "" {
		return session.Plan{}, fmt.Errorf("planner: no JSON object in response")
	}
	var wp wirePlan
	if err := json.Unmarshal([]byte(body), &wp); err != nil {
		return session.Plan{}, fmt.Errorf("planner: %w", err)
	}
	if wp.TaskType == "" {
		return session.Plan{}, fmt.Errorf("planner: missing task_type")
	}

	plan := session.Plan{
		TaskType:       wp.TaskType,
		Columns:        wp.Columns,
		ExpectedOutput: wp.ExpectedOutput,
		Rationale:      wp.Rationale,
	}
	if plan.Columns == nil {
		plan.Columns = []string{}
	}
	for _, op := range wp.Operations {
		plan.Operations = append(plan.Operations, session.Operation{
			Name:        op.Name,
			Column:      op.Column,
			Description: op.Description,
		})
	}
	if plan.Operations == nil {
		plan.Operations = []session.Operation{}
	}
	return plan, nil
}

// extractJSONObject salvages a bare JSON object from a response that may be
// wrapped in prose or a Markdown code fence, the way the teacher's ReAct
// loop salvages tool-call JSON out of free text.
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
	b.WriteString("You are a data-analysis planner. Produce a JSON object with fields ")
	b.WriteString(`{"task_type": string, "columns": [string], "operations": [{"name": string, "column": string|array|object, "description": string}], "expected_output": string, "rationale": string}.` + "\n\n")

	b.WriteString("Recognized operations: " + strings.Join(LoadVocabulary(), ", ") + "\n\n")

	cols := detectColumns(req.DocumentPreview)
	if len(cols) > 0 {
		b.WriteString("Detected columns: " + strings.Join(cols, ", ") + "\n\n")
	}

	b.WriteString("Request: " + req.Text + "\n\n")

	if history := summarizeHistory(req.PlanHistory); history != "" {
		b.WriteString("Prior plans:\n" + history + "\n")
	}

	if req.IsReplan && req.LastObservation != nil {
		b.WriteString("Improvement needed:\n")
		b.WriteString("- feedback: " + req.LastObservation.Feedback + "\n")
		for _, gap := range missingVocabularyGaps(req) {
			b.WriteString("- consider adding operation: " + gap + "\n")
		}
	}

	b.WriteString("\nRespond with ONLY the JSON object, no surrounding prose.")
	return b.String()
}

func detectColumns(documentPreview string) []string {
	if strings.TrimSpace(documentPreview) == "" {
		return nil
	}
	ds := table.Parse(documentPreview)
	return ds.Merged().Columns
}

func summarizeHistory(history []session.Plan) string {
	if len(history) == 0 {
		return ""
	}
	start := 0
	if len(history) > 3 {
		start = len(history) - 3
	}
	var b strings.Builder
	for _, p := range history[start:] {
		var ops []string
		for _, op := range p.Operations {
			ops = append(ops, op.Name)
		}
		fmt.Fprintf(&b, "- task_type=%s ops=[%s] expected_output=%q\n", p.TaskType, strings.Join(ops, ","), p.ExpectedOutput)
	}
	return b.String()
}

// missingVocabularyGaps names which of mean, sum and missing_percentage are
// absent from the prior plan's operations, the "gaps in prior Results"
// heuristic spec.md §4.6 calls for without prescribing its exact shape. The
// rest of the vocabulary is not checked.
func missingVocabularyGaps(req Request) []string {
	if len(req.PlanHistory) == 0 {
		return nil
	}
	last := req.PlanHistory[len(req.PlanHistory)-1]
	present := map[string]bool{}
	for _, op := range last.Operations {
		present[op.Name] = true
	}
	var gaps []string
	for _, op := range []string{"mean", "sum", "missing_percentage"} {
		if !present[op] {
			gaps = append(gaps, op)
		}
	}
	return gaps
}
