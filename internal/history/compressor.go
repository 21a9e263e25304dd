// Package history implements the token-budgeted chat history compressor
// (component C2): truncate from the tail backwards to fit a budget, then
// fall back to an LLM summary when truncation alone isn't enough.
package history

import (
	"context"
	"fmt"

	"analystengine/internal/llm"
	"analystengine/internal/observability"
	"analystengine/internal/session"
)

const (
	// DefaultKeepRecentRatio is the share of MaxTokens kept when truncating.
	DefaultKeepRecentRatio = 0.7

	unchangedThreshold     = 0.7
	summarizeThreshold     = 0.6
	summaryMaxChars        = 200
	summaryTemperature     = 0.3
)

// EstimateTokens applies the cheap CJK-aware heuristic this system uses
// everywhere token counts matter: a CJK-range rune counts 1.5, any other
// rune counts 0.25.
func EstimateTokens(text string) float64 {
	var total float64
	for _, r := range text {
		if isCJK(r) {
			total += 1.5
		} else {
			total += 0.25
		}
	}
	return total
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana/Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	default:
		return false
	}
}

func estimateMessages(msgs []session.Message) float64 {
	var total float64
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}

// Compressor is C2: it keeps chat history under a token budget via
// truncation, then LLM summarization when truncation alone isn't enough.
type Compressor struct {
	Provider llm.Provider
}

func NewCompressor(provider llm.Provider) *Compressor {
	return &Compressor{Provider: provider}
}

// Compress returns history unchanged if its estimated size is already within
// 70% of maxTokens. Otherwise it truncates from the tail backwards until
// keepRecentRatio*maxTokens is reached; if the truncated result still
// exceeds 60% of maxTokens it asks the provider for a <=200-character
// summary and returns [{system, "summary: ..."}, lastKeptMessage]. Any
// provider failure during summarization falls back to the truncated form.
func (c *Compressor) Compress(ctx context.Context, hist []session.Message, maxTokens int, keepRecentRatio float64, params llm.Params) []session.Message {
	if keepRecentRatio <= 0 {
		keepRecentRatio = DefaultKeepRecentRatio
	}
	budget := float64(maxTokens)

	total := estimateMessages(hist)
	if total <= budget*unchangedThreshold {
		return hist
	}

	truncated, truncatedTokens := truncateFromTail(hist, budget*keepRecentRatio)

	if truncatedTokens <= budget*summarizeThreshold || c.Provider == nil {
		return truncated
	}

	summary, err := c.summarize(ctx, truncated, params)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("history_summarize_failed")
		return truncated
	}

	out := []session.Message{{Role: session.RoleSystem, Content: "summary: " + summary}}
	if len(truncated) > 0 {
		out = append(out, truncated[len(truncated)-1])
	}
	return out
}

// truncateFromTail keeps the newest messages, walking backwards from the end
// of hist, until adding the next (older) message would exceed keepBudget.
func truncateFromTail(hist []session.Message, keepBudget float64) ([]session.Message, float64) {
	if len(hist) == 0 {
		return hist, 0
	}
	var kept []session.Message
	var total float64
	for i := len(hist) - 1; i >= 0; i-- {
		tokens := EstimateTokens(hist[i].Content)
		if total+tokens > keepBudget && len(kept) > 0 {
			break
		}
		kept = append([]session.Message{hist[i]}, kept...)
		total += tokens
	}
	return kept, total
}

func (c *Compressor) summarize(ctx context.Context, msgs []session.Message, params llm.Params) (string, error) {
	prompt := buildSummaryPrompt(msgs)

	p := params
	p.Temperature = summaryTemperature
	p.History = nil

	text, err := c.Provider.Complete(ctx, prompt, p)
	if err != nil {
		return "", err
	}
	if runes := []rune(text); len(runes) > summaryMaxChars {
		text = string(runes[:summaryMaxChars])
	}
	return text, nil
}

func buildSummaryPrompt(msgs []session.Message) string {
	out := "You are a concise summarizer. Produce a short, factual summary (<= 200 characters) of this conversation segment so it can replace it in context:\n\n"
	for _, m := range msgs {
		out += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
	}
	return out
}
