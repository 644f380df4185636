package cost

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"blogpilot/internal/core"
)

// GeminiPricing represents the list price of a Gemini model
type GeminiPricing struct {
	Model                 string
	InputCostPer1MTokens  float64 // Cost per 1M input tokens in USD
	OutputCostPer1MTokens float64 // Cost per 1M output tokens in USD
}

// PricingTable contains Gemini list prices as of 2025
var PricingTable = map[string]GeminiPricing{
	"gemini-2.5-pro": {
		Model:                 "gemini-2.5-pro",
		InputCostPer1MTokens:  1.25,
		OutputCostPer1MTokens: 10.00,
	},
	"gemini-2.5-flash": {
		Model:                 "gemini-2.5-flash",
		InputCostPer1MTokens:  0.30,
		OutputCostPer1MTokens: 2.50,
	},
	"gemini-2.5-flash-lite": {
		Model:                 "gemini-2.5-flash-lite",
		InputCostPer1MTokens:  0.10,
		OutputCostPer1MTokens: 0.40,
	},
	"gemini-2.0-flash": {
		Model:                 "gemini-2.0-flash",
		InputCostPer1MTokens:  0.10,
		OutputCostPer1MTokens: 0.40,
	},
	"gemini-embedding-001": {
		Model:                 "gemini-embedding-001",
		InputCostPer1MTokens:  0.15,
		OutputCostPer1MTokens: 0,
	},
}

// defaultPricing is used for models missing from the table
var defaultPricing = PricingTable["gemini-2.5-flash"]

// Lookup returns the pricing for model. Versioned names such as
// "gemini-2.5-pro-preview-06-05" fall back to their longest known prefix.
func Lookup(model string) (GeminiPricing, bool) {
	if p, ok := PricingTable[model]; ok {
		return p, true
	}
	best := ""
	for name := range PricingTable {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return PricingTable[best], true
	}
	return defaultPricing, false
}

// EstimateTokenCount provides a rough estimation of token count for text
// This is a simplified approximation: typically 1 token ≈ 4 characters
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")

	charCount := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(charCount) / 3.5))
}

// CallCost prices a single model call.
func CallCost(model string, promptTokens, completionTokens int) float64 {
	p, _ := Lookup(model)
	return float64(promptTokens)*p.InputCostPer1MTokens/1000000 +
		float64(completionTokens)*p.OutputCostPer1MTokens/1000000
}

// ModelBreakdown is the usage of one model within a summary
type ModelBreakdown struct {
	Model            string
	Calls            int
	Failed           int
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// SummaryEstimate prices a per-file token summary
type SummaryEstimate struct {
	Models    []ModelBreakdown
	TotalCost float64
}

// EstimateSummary groups the calls of s by model and prices them.
func EstimateSummary(s *core.TokenSummary) SummaryEstimate {
	byModel := map[string]*ModelBreakdown{}
	for _, call := range s.Calls() {
		b, ok := byModel[call.Model]
		if !ok {
			b = &ModelBreakdown{Model: call.Model}
			byModel[call.Model] = b
		}
		b.Calls++
		if call.Err != "" {
			b.Failed++
		}
		b.PromptTokens += call.PromptTokens
		b.CompletionTokens += call.CompletionTokens
		b.Cost += CallCost(call.Model, call.PromptTokens, call.CompletionTokens)
	}

	var est SummaryEstimate
	for _, b := range byModel {
		est.Models = append(est.Models, *b)
		est.TotalCost += b.Cost
	}
	sort.Slice(est.Models, func(i, j int) bool { return est.Models[i].Model < est.Models[j].Model })
	return est
}

// FormatSummary renders the line logged after each file.
func FormatSummary(s *core.TokenSummary) string {
	prompt, completion, calls, failed := s.Totals()
	if calls == 0 {
		return "tokens: no model calls"
	}
	return fmt.Sprintf("tokens: %d (prompt %d, completion %d, calls %d, failed %d, est. $%.4f)",
		prompt+completion, prompt, completion, calls, failed, EstimateSummary(s).TotalCost)
}
