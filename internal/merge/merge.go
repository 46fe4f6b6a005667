// Package merge implements spec.md §4.10's precedence-based field
// merge: given every domain.ExtractionResult gathered across a
// charity's crawl, pick one winning value per field name.
//
// Grounded directly on
// original_source/data-pipeline/src/utils/merge_strategy.py's
// MergeStrategy: FACTUAL_FIELDS/SEMANTIC_FIELDS set membership,
// FACTUAL_SOURCE_PRIORITY/SEMANTIC_SOURCE_PRIORITY priority maps keyed
// by the same granular source tags internal/extract emits, and the
// (priority, confidence) descending sort_key. Ported field-for-field;
// no teacher package does anything resembling a precedence merge, so
// this package is new rather than adapted.
package merge

import (
	"sort"

	"github.com/amalresearch/evalpipeline/internal/domain"
)

// factualFields use structured > deterministic > LLM precedence.
var factualFields = map[string]bool{
	"ein":             true,
	"contact_email":   true,
	"contact_phone":   true,
	"address":         true,
	"social_media":    true,
	"donate_url":      true,
	"volunteer_url":   true,
	"logo_url":        true,
	"name":            true,
	"url":             true,
	"founded_year":    true,
	"tax_deductible":  true,
}

// semanticFields use LLM > structured > deterministic precedence.
var semanticFields = map[string]bool{
	"mission":             true,
	"vision":              true,
	"tagline":             true,
	"values":              true,
	"programs":            true,
	"target_populations":  true,
	"geographic_coverage": true,
	"impact_metrics":      true,
	"beneficiaries":       true,
	"leadership":          true,
	"additional_info":     true,
}

// factualSourcePriority: higher number wins.
var factualSourcePriority = map[string]int{
	"json-ld":       3,
	"opengraph":     3,
	"microdata":     3,
	"regex-ein":     2,
	"regex-contact": 2,
	"regex-social":  2,
	"regex-donate":  2,
}

// semanticSourcePriority: higher number wins. Any "llm-*" tag is
// priority 3 regardless of page type.
var semanticSourcePriority = map[string]int{
	"json-ld":       2,
	"opengraph":     2,
	"microdata":     2,
	"regex-ein":     1,
	"regex-contact": 1,
	"regex-social":  1,
	"regex-donate":  1,
}

const llmSourcePrefix = "llm-"

func isLLMSource(source string) bool {
	return len(source) > len(llmSourcePrefix) && source[:len(llmSourcePrefix)] == llmSourcePrefix
}

func priorityFor(fieldName, source string) int {
	if isLLMSource(source) {
		if semanticFields[fieldName] {
			return 3
		}
		return 1
	}
	if semanticFields[fieldName] {
		if p, ok := semanticSourcePriority[source]; ok {
			return p
		}
		return 0
	}
	// Factual fields, and any unrecognized field name, default to
	// factual precedence per merge_strategy.py's fallback branch.
	if p, ok := factualSourcePriority[source]; ok {
		return p
	}
	return 0
}

// Merged is the output of Merge: the winning value per field, plus a
// parallel map of which source tag won it, for audit.
type Merged struct {
	Fields      map[string]any
	DataSources map[string]string
}

// Merge partitions results by FieldName, sorts each group by
// (priority_rank, confidence) descending, and emits the top of each
// group, per spec.md §4.10.
func Merge(results []domain.ExtractionResult) Merged {
	byField := make(map[string][]domain.ExtractionResult)
	for _, r := range results {
		byField[r.FieldName] = append(byField[r.FieldName], r)
	}

	fields := make(map[string]any, len(byField))
	sources := make(map[string]string, len(byField))

	for fieldName, group := range byField {
		sort.SliceStable(group, func(i, j int) bool {
			pi, pj := priorityFor(fieldName, group[i].ExtractionSource), priorityFor(fieldName, group[j].ExtractionSource)
			if pi != pj {
				return pi > pj
			}
			return group[i].Confidence > group[j].Confidence
		})
		winner := group[0]
		fields[fieldName] = winner.FieldValue
		sources[fieldName] = winner.ExtractionSource
	}

	return Merged{Fields: fields, DataSources: sources}
}
