package extract

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/llmclient"
	"github.com/amalresearch/evalpipeline/internal/urlscore"
)

// minLLMTextLength is text_cleaner.py's "too_short" threshold: a page
// cleaned to 100 characters or fewer isn't worth an LLM call.
const minLLMTextLength = 100

// semanticFieldSchema is the typed output schema handed to the LLM,
// shared across page types: a page-type-conditioned prompt steers
// which of these fields the model actually fills in, but one schema
// keeps the merge side simple (every field name here matches
// merge_strategy.py's SEMANTIC_FIELDS plus the handful of factual
// fields the LLM is allowed to corroborate).
var semanticFieldSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"mission":              map[string]any{"type": "string"},
		"vision":               map[string]any{"type": "string"},
		"tagline":              map[string]any{"type": "string"},
		"values":               map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"programs":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"target_populations":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"geographic_coverage":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"impact_metrics":       map[string]any{"type": "object"},
		"beneficiaries":        map[string]any{"type": "string"},
		"leadership":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"additional_info":      map[string]any{"type": "string"},
		"ein":                  map[string]any{"type": "string"},
		"donate_url":           map[string]any{"type": "string"},
		"tax_deductible":       map[string]any{"type": "boolean"},
	},
}

// pageTypePrompts conditions the system prompt on spec.md §4.9's
// page-type classification (homepage, zakat, about, programs, impact,
// donate, contact), grounded on
// original_source/data-pipeline/src/collectors/web_collector.py's
// page_type switch driving extract_with_schema.
var pageTypePrompts = map[urlscore.PageType]string{
	urlscore.PageHomepage: "This is the charity's homepage. Extract its overall mission, tagline, and any summary of programs or impact.",
	urlscore.PageZakat:    "This page discusses zakat or sadaqah eligibility. Extract zakat-specific program details, target populations, and geographic coverage.",
	urlscore.PageAbout:    "This is an about/mission page. Extract mission, vision, values, and leadership.",
	urlscore.PagePrograms: "This page describes the charity's programs. Extract the program list, target populations, and geographic coverage.",
	urlscore.PageImpact:   "This page reports outcomes or impact. Extract impact metrics and beneficiary counts.",
	urlscore.PageDonate:   "This is a donation page. Extract the donate URL and any tax-deductible statement.",
	urlscore.PageContact:  "This is a contact or leadership page. Extract leadership names and additional contact context.",
	urlscore.PageOther:    "Extract any charity profile fields present on this page.",
}

const llmSystemPreamble = "You extract structured facts about a nonprofit charity from a single web page's text. " +
	"Only report fields actually supported by the text; omit fields you cannot find. Do not guess."

// extractLLM runs spec.md §4.9 step 3: clean HTML to compact text
// (precision pass, relaxed pass if empty), bail out with
// js_rendering_needed when there still isn't enough text, classify
// the page type, and invoke the LLM with a page-type-conditioned
// prompt and schema.
func extractLLM(ctx context.Context, client llmclient.Client, doc *goquery.Document, pageURL string, now time.Time) (results []domain.ExtractionResult, jsNeeded bool, failureReason string) {
	text := cleanForLLM(doc, true)
	if len(text) <= minLLMTextLength {
		text = cleanForLLM(doc, false)
	}
	if text == "" {
		return nil, true, "empty_content"
	}
	if len(text) <= minLLMTextLength {
		return nil, true, "too_short"
	}

	pageType := urlscore.ClassifyPage(pageURL)
	prompt, ok := pageTypePrompts[pageType]
	if !ok {
		prompt = pageTypePrompts[urlscore.PageOther]
	}

	resp, err := client.Extract(ctx, llmclient.Request{
		Messages: []llmclient.Message{
			{Role: llmclient.RoleSystem, Content: llmSystemPreamble},
			{Role: llmclient.RoleUser, Content: prompt + "\n\nPage text:\n" + text},
		},
		Schema:     semanticFieldSchema,
		SchemaName: "charity_page_fields",
	})
	if err != nil {
		return nil, false, "llm_error"
	}

	source := "llm-" + string(pageType)
	costUSD := estimateCostUSD(resp.Usage)
	for field, value := range resp.Fields {
		if isEmptyValue(value) {
			continue
		}
		results = append(results, domain.ExtractionResult{
			FieldName:        field,
			FieldValue:       value,
			ExtractionSource: source,
			Confidence:       0.85,
			PageURL:          pageURL,
			Timestamp:        now,
			LLMCostUSD:       costUSD,
		})
	}
	return results, false, ""
}

// costPerInputTokenUSD and costPerOutputTokenUSD approximate a
// small-model per-token price so cost tracking has a non-zero
// default even when a Client doesn't report its own pricing; callers
// running against their own contracted rates should treat this as an
// estimate, matching spec.md §4.9's "attach LLM cost to the result"
// without assuming any specific provider's price sheet.
const (
	costPerInputTokenUSD  = 0.0000008
	costPerOutputTokenUSD = 0.000004
)

func estimateCostUSD(u llmclient.Usage) float64 {
	return float64(u.InputTokens)*costPerInputTokenUSD + float64(u.OutputTokens)*costPerOutputTokenUSD
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
