// Package orchestrator implements the Orchestrator (component C10): the
// Plan-Execute-Observe-Replan state machine that drives a single request
// from its initial SessionState to a report event closing the tape.
// Grounded on the teacher's internal/agent/engine.go Run/RunStream loop
// (iterate-call-evaluate-decide, emitting a per-step event down a
// callback/channel) and internal/orchestrator/handler.go's
// producer/consumer split, generalized into the tape package's typed
// channel and the five-component pipeline this system's Plan requires
// instead of the teacher's single-tool ReAct step. The loop itself is a
// plain iteration (spec.md's Design Notes reject a graph-library cyclic
// state machine); each step still produces a new SessionState value rather
// than mutating the previous one in place.
package orchestrator

import (
	"context"
	"strconv"
	"strings"

	"analystengine/internal/config"
	"analystengine/internal/evaluator"
	"analystengine/internal/executor"
	"analystengine/internal/history"
	"analystengine/internal/llm"
	"analystengine/internal/observability"
	"analystengine/internal/plancache"
	"analystengine/internal/planner"
	"analystengine/internal/reporter"
	"analystengine/internal/session"
	"analystengine/internal/table"
	"analystengine/internal/tape"
)

// documentPreviewShare is the fraction of settings.MaxTokens the document
// preview is trimmed to (spec.md §3: "document_preview ... ≤ 70% of
// configured token budget"), reusing C2's own token-budget heuristic for
// the estimate itself.
const documentPreviewShare = 0.7

// analysisKeywords is the fixed vocabulary that routes a request into the
// Plan-Execute-Observe loop instead of bypass chat, including common
// localizations (spec.md §4.10) — this system already weighs CJK text
// specially in its token heuristic, so Chinese equivalents are the natural
// first localization to carry.
var analysisKeywords = []string{
	"analyze", "analysis", "statistics", "compute", "pivot", "report", "trend", "compare", "step-by-step",
	"分析", "统计", "计算", "透视", "报告", "趋势", "比较", "逐步",
}

// Orchestrator is C10.
type Orchestrator struct {
	Provider   llm.Provider
	Compressor *history.Compressor
	Planner    *planner.Planner
	Executor   *executor.Executor
	Evaluator  *evaluator.Evaluator
	Reporter   *reporter.Reporter
}

// New wires the full pipeline against a single Provider and Plan Cache.
func New(provider llm.Provider, cache *plancache.Cache) *Orchestrator {
	return &Orchestrator{
		Provider:   provider,
		Compressor: history.NewCompressor(provider),
		Planner:    planner.New(provider, cache),
		Executor:   executor.New(provider),
		Evaluator:  evaluator.New(provider),
		Reporter:   reporter.New(provider),
	}
}

// Run drives one request to completion, producing events on tp and closing
// it once the final report or a fatal error event has been sent. If the
// consumer cancels tp or ctx ends, Run stops producing and returns without
// closing tp. It never returns an error: every failure path is itself an
// event on the tape (spec.md §7).
func (o *Orchestrator) Run(ctx context.Context, request, documentFull string, hist []session.Message, settings config.Resolved, tp *tape.Tape) {
	state := session.New(request, documentFull, hist, settings)

	if strings.TrimSpace(request) == "" && strings.TrimSpace(documentFull) == "" {
		errInfo := &session.ErrorInfo{Kind: session.KindInput, Message: "request and document are both empty"}
		tp.Send(ctx, tape.ErrorEvent(errInfo.Error()))
		tp.Close()
		return
	}

	params := llm.Params{
		Model:            settings.ModelName,
		Temperature:      settings.Temperature,
		MaxTokens:        settings.MaxTokens,
		TopP:             settings.TopP,
		FrequencyPenalty: settings.FrequencyPenalty,
		APIKey:           settings.APIKey,
		BaseURL:          settings.BaseURL,
	}

	state.History = o.Compressor.Compress(ctx, hist, settings.MaxTokens, history.DefaultKeepRecentRatio, params)
	state.DocumentPreview = trimPreview(documentFull, settings.MaxTokens)

	if strings.TrimSpace(documentFull) == "" && !settings.StepByStep && !containsAnalysisKeyword(request) {
		o.runBypassChat(ctx, request, params, tp)
		return
	}

	o.runLoop(ctx, state, tp)
}

// runBypassChat streams a single-turn chat reply through C1 without ever
// entering the Plan-Execute-Observe loop (spec.md §4.10's route decision).
func (o *Orchestrator) runBypassChat(ctx context.Context, request string, params llm.Params, tp *tape.Tape) {
	stream, err := o.Provider.Stream(ctx, request, params)
	if err != nil {
		tp.Send(ctx, tape.ErrorEvent(err.Error()))
		tp.Close()
		return
	}
	defer stream.Cancel()

	for {
		chunk, ok, err := stream.Next()
		if err != nil {
			tp.Send(ctx, tape.ErrorEvent(err.Error()))
			tp.Close()
			return
		}
		if !ok {
			break
		}
		if sendOK := tp.Send(ctx, tape.ReplyEvent(chunk)); !sendOK {
			return
		}
	}
	tp.Close()
}

// planTransition, computeTransition and observeTransition each return the next SessionState rather than mutating
// their argument, matching this codebase's immutable-state-machine style.
func planTransition(state session.State, plan session.Plan) session.State {
	next := state.Clone()
	next.CurrentPlan = &plan
	next.PlanHistory = append(next.PlanHistory, plan)
	if state.Iteration == 0 {
		next.Step = session.StepPlanning
	} else {
		next.Step = session.StepReplanning
	}
	return next
}

func computeTransition(state session.State, results session.Results) session.State {
	next := state.Clone()
	next.Results = &results
	next.Step = session.StepProcessing
	return next
}

func observeTransition(state session.State, obs session.Observation) session.State {
	next := state.Clone()
	next.Observation = &obs
	next.NeedsReplan = obs.NeedsReplan
	next.Step = session.StepObserving
	return next
}

// runLoop drives the Plan-Execute-Observe-Replan iteration described in
// spec.md §4.10.
func (o *Orchestrator) runLoop(ctx context.Context, state session.State, tp *tape.Tape) {
	log := observability.LoggerWithTrace(ctx)
	dataset := table.Parse(state.DocumentFull)

	for {
		if ctx.Err() != nil || tp.Cancelled() {
			return
		}

		var lastObservation *session.Observation
		isReplan := len(state.PlanHistory) > 0
		if isReplan {
			lastObservation = state.Observation
		}

		plan, err := o.Planner.Plan(ctx, planner.Request{
			Text:            state.Request,
			DocumentPreview: state.DocumentPreview,
			DocumentFull:    state.DocumentFull,
			Settings:        state.Settings,
			PlanHistory:     state.PlanHistory,
			LastObservation: lastObservation,
			IsReplan:        isReplan,
		})
		if err != nil {
			if state.Iteration == 0 {
				errInfo := &session.ErrorInfo{Kind: session.KindLLM, SubKind: string(session.LLMStatus), Message: err.Error()}
				tp.Send(ctx, tape.ErrorEvent(errInfo.Error()))
				tp.Close()
				return
			}
			log.Warn().Err(err).Msg("orchestrator_planner_failed_mid_loop")
			state.Observation = &session.Observation{Success: false, Feedback: err.Error(), NextActions: []string{"replan"}, NeedsReplan: true}
			if state.Iteration+1 >= state.Settings.MaxIterations {
				break
			}
			state.Iteration++
			continue
		}

		state = planTransition(state, plan)
		if ok := tp.Send(ctx, tape.PlanEvent(planMessage(state), plan)); !ok {
			return
		}

		results := o.Executor.Execute(ctx, plan, dataset, state.Settings)
		state = computeTransition(state, results)
		if ok := tp.Send(ctx, tape.ComputeEvent("computed results for iteration "+strconv.Itoa(state.Iteration), results)); !ok {
			return
		}

		obs := o.Evaluator.Evaluate(ctx, evaluator.Request{
			OriginalQuery: state.Request,
			Plan:          plan,
			Results:       results,
			Settings:      state.Settings,
		})
		state = observeTransition(state, obs)
		if ok := tp.Send(ctx, tape.ObserveEvent("evaluated iteration "+strconv.Itoa(state.Iteration), toObservationWire(obs))); !ok {
			return
		}

		accept := obs.QualityScore >= state.Settings.EarlyStopThreshold && !obs.NeedsReplan
		if accept {
			break
		}
		if obs.NeedsReplan && state.Iteration+1 < state.Settings.MaxIterations {
			state.Iteration++
			continue
		}
		break
	}

	o.report(ctx, state, tp)
}

func (o *Orchestrator) report(ctx context.Context, state session.State, tp *tape.Tape) {
	state.Step = session.StepReporting

	var results session.Results
	if state.Results != nil {
		results = *state.Results
	}
	var obs session.Observation
	if state.Observation != nil {
		obs = *state.Observation
	}
	var plan session.Plan
	if state.CurrentPlan != nil {
		plan = *state.CurrentPlan
	}

	text, _ := o.Reporter.Report(ctx, reporter.Request{
		OriginalQuery: state.Request,
		Plan:          plan,
		Results:       results,
		Observation:   obs,
		Settings:      state.Settings,
	})
	state.Report = &text
	state.Step = session.StepDone

	if ok := tp.Send(ctx, tape.ReportEvent("final report", text)); !ok {
		return
	}
	tp.Close()
}

func planMessage(state session.State) string {
	if state.Iteration == 0 {
		return "initial plan"
	}
	return "replan for iteration " + strconv.Itoa(state.Iteration)
}

// observationWire is the {quality_score, feedback, success, next_actions,
// needs_replanning} shape spec.md §6 specifies for the observe event
// result, which deliberately omits the (already emitted on compute)
// Results payload.
type observationWire struct {
	QualityScore float64  `json:"quality_score"`
	Feedback     string   `json:"feedback"`
	Success      bool     `json:"success"`
	NextActions  []string `json:"next_actions"`
	NeedsReplan  bool     `json:"needs_replanning"`
}

func toObservationWire(obs session.Observation) observationWire {
	return observationWire{
		QualityScore: obs.QualityScore,
		Feedback:     obs.Feedback,
		Success:      obs.Success,
		NextActions:  obs.NextActions,
		NeedsReplan:  obs.NeedsReplan,
	}
}

// trimPreview derives document_preview from document_full by trimming to
// documentPreviewShare of maxTokens, reusing the history compressor's own
// CJK-weighted token estimate so the preview and the compressed chat
// history compete for the same budget currency.
func trimPreview(full string, maxTokens int) string {
	budget := float64(maxTokens) * documentPreviewShare
	if history.EstimateTokens(full) <= budget {
		return full
	}
	runes := []rune(full)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if history.EstimateTokens(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

func containsAnalysisKeyword(request string) bool {
	lower := strings.ToLower(request)
	for _, kw := range analysisKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
