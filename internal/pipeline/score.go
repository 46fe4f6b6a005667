// Baseline/Rich/Judge scoring math is named an out-of-scope external
// collaborator by spec.md §1 ("the scoring math itself, narrative
// prompt templates... Their interfaces are specified in §6"). This
// file is the concrete, deterministic stand-in that lets the DAG
// actually run end-to-end: it is intentionally simple and fully
// documented here rather than claimed to be a faithful port of any
// particular scoring model. See DESIGN.md.
package pipeline

import (
	"context"
	"fmt"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/llmclient"
	"github.com/amalresearch/evalpipeline/internal/store"
)

// scoringInputs collects the raw signals Baseline reads across
// sources, since CharityData itself only carries the fields spec.md
// §3 gives it a typed slot for (financials, grants, accreditation
// status) — beacon scores and seal level live only in their source's
// RawRecord.
type scoringInputs struct {
	data             domain.CharityData
	sourcesPresent   int
	beaconAverage    float64
	hasRating        bool
	hasCultureAward  bool
	hasAccreditation bool
	sealLevel        string
}

func (p *Pipeline) loadScoringInputs(ctx context.Context, charityID string) (scoringInputs, error) {
	var in scoringInputs

	var data domain.CharityData
	if _, err := p.store.Get(ctx, store.TableCharityData, charityID, &data); err != nil {
		return in, fmt.Errorf("baseline: load charity_data: %w", err)
	}
	in.data = data

	for _, source := range domain.RequiredSources {
		if rec, ok := p.loadSuccessfulRecord(ctx, charityID, source); ok {
			in.sourcesPresent++
			switch source {
			case domain.SourceRatingOrg:
				in.hasRating, in.hasCultureAward, in.beaconAverage = beaconSignals(rec.ParsedPayload)
			case domain.SourceProfile:
				in.sealLevel = sealLevelFrom(rec.ParsedPayload)
			case domain.SourceAccreditation:
				in.hasAccreditation = accreditationStatusFrom(rec.ParsedPayload) != ""
			}
		}
	}
	return in, nil
}

func beaconSignals(payload map[string]any) (hasRating, hasCultureAward bool, average float64) {
	profile, _ := payload["rating_org_profile"].(map[string]any)
	hasRating, _ = profile["has_rating"].(bool)
	hasCultureAward, _ = profile["has_culture_award"].(bool)
	fields := []string{"impact_score", "accountability_score", "culture_score", "leadership_score"}
	var sum float64
	var n int
	for _, f := range fields {
		if v, ok := profile[f]; ok {
			sum += asFloat(v)
			n++
		}
	}
	if n > 0 {
		average = sum / float64(n)
	}
	return
}

func sealLevelFrom(payload map[string]any) string {
	profile, _ := payload["profile_site"].(map[string]any)
	return asString(profile["seal_level"])
}

func programExpenseRatio(history []domain.FinancialYear) float64 {
	if len(history) == 0 {
		return 0
	}
	latest := history[0]
	if latest.TotalExpenses <= 0 {
		return 0
	}
	ratio := latest.ProgramExpense / latest.TotalExpenses
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// runBaseline computes the deterministic score (financial efficiency
// + rating-org beacons + accreditation/seal signal), a confidence
// split derived from how many required sources materialized, and a
// short templated narrative.
func (p *Pipeline) runBaseline(ctx context.Context, charityID string) (float64, error) {
	in, err := p.loadScoringInputs(ctx, charityID)
	if err != nil {
		return 0, err
	}

	financialScore := programExpenseRatio(in.data.FinancialHistory) * 40
	ratingScore := (in.beaconAverage / 100) * 30
	accreditationScore := 0.0
	if in.hasAccreditation {
		accreditationScore = 15
	}
	sealScore := 0.0
	if in.sealLevel != "" {
		sealScore = 15
	}
	amalScore := clamp(financialScore+ratingScore+accreditationScore+sealScore, 0, 100)

	dataConfidence := clamp(float64(in.sourcesPresent)/float64(len(domain.RequiredSources)), 0, 1)
	impactConfidence := clamp(dataConfidence*50, 0, 50)
	alignmentConfidence := clamp((ratingScore/30)*50, 0, 50)

	tier, walletTag := classify(amalScore, dataConfidence)

	strengths := make([]string, 0, 3)
	if financialScore >= 25 {
		strengths = append(strengths, "High share of spending goes directly to programs")
	}
	if in.hasRating {
		strengths = append(strengths, "Independently rated by a third-party charity evaluator")
	}
	if in.hasAccreditation {
		strengths = append(strengths, "Holds an active accreditation")
	}

	eval := domain.Evaluation{
		CharityID:           charityID,
		Tier:                tier,
		AmalScore:           amalScore,
		ImpactConfidence:    impactConfidence,
		AlignmentConfidence: alignmentConfidence,
		DataConfidence:      dataConfidence,
		WalletTag:           walletTag,
		BaselineHeadline:    baselineHeadline(in.data.Name, tier),
		BaselineSummary:     baselineSummary(in.data, in),
		BaselineStrengths:   strengths,
		DataSources:         in.data.DataSources,
	}

	if err := p.store.Upsert(ctx, store.TableEvaluations, charityID, eval); err != nil {
		return 0, fmt.Errorf("baseline: %w", err)
	}
	return 0, nil
}

func classify(amalScore, dataConfidence float64) (tier, walletTag string) {
	if dataConfidence < 0.5 {
		return "bronze", domain.WalletInsufficientData
	}
	switch {
	case amalScore >= 80:
		return "platinum", domain.WalletZakatEligible
	case amalScore >= 60:
		return "gold", domain.WalletSadaqahEligible
	case amalScore >= 40:
		return "silver", domain.WalletSadaqahStrategic
	default:
		return "bronze", domain.WalletSadaqahGeneral
	}
}

func baselineHeadline(name, tier string) string {
	if name == "" {
		name = "This charity"
	}
	return fmt.Sprintf("%s — %s tier", name, tier)
}

func baselineSummary(data domain.CharityData, in scoringInputs) string {
	mission := data.Mission
	if mission == "" {
		mission = "its stated mission"
	}
	return fmt.Sprintf("Evaluated on %d of %d required data sources. Mission: %s", in.sourcesPresent, len(domain.RequiredSources), mission)
}

// richNarrativeSchema is the structured-output shape requested from
// the LLM for the optional rich narrative, per spec.md §4.9's
// "typed output schema" convention reused here for narration rather
// than field extraction.
var richNarrativeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"narrative": map[string]any{"type": "string"},
	},
	"required": []any{"narrative"},
}

// runRich generates an optional narrative with citations when an LLM
// client is configured; per spec.md §7's "optional services -> warn
// and continue", a nil/unconfigured client simply leaves the
// evaluation's rich fields empty rather than failing the phase.
func (p *Pipeline) runRich(ctx context.Context, charityID string) (float64, error) {
	var eval domain.Evaluation
	ok, err := p.store.Get(ctx, store.TableEvaluations, charityID, &eval)
	if err != nil {
		return 0, fmt.Errorf("rich: load evaluation: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("rich: no baseline evaluation for %s", charityID)
	}

	if p.llm == nil {
		return 0, nil
	}

	var data domain.CharityData
	p.store.Get(ctx, store.TableCharityData, charityID, &data)

	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: llmclient.RoleSystem, Content: "Write a short, factual narrative about this charity's programs and impact for a donor audience."},
			{Role: llmclient.RoleUser, Content: fmt.Sprintf("Name: %s\nMission: %s\nPrograms: %v", data.Name, data.Mission, data.Programs)},
		},
		Schema:    richNarrativeSchema,
		MaxTokens: 512,
	}
	resp, err := p.llm.Extract(ctx, req)
	if err != nil {
		// LLM failure on this optional phase is a warn-and-continue
		// outcome, not a hard phase failure (spec.md §7).
		return 0, nil
	}

	narrative, _ := resp.Fields["narrative"].(string)
	eval.RichNarrative = narrative
	if narrative != "" && len(data.DataSources) > 0 {
		eval.AllCitations = citationsFrom(data)
	}
	eval.CumulativeLLMCostUSD += costFromUsage(resp.Usage)

	if err := p.store.Upsert(ctx, store.TableEvaluations, charityID, eval); err != nil {
		return costFromUsage(resp.Usage), fmt.Errorf("rich: %w", err)
	}
	return costFromUsage(resp.Usage), nil
}

func citationsFrom(data domain.CharityData) []domain.Citation {
	citations := make([]domain.Citation, 0, len(data.DataSources))
	seen := make(map[string]bool, len(data.DataSources))
	for field, source := range data.DataSources {
		if seen[source] {
			continue
		}
		seen[source] = true
		citations = append(citations, domain.Citation{ID: fmt.Sprintf("%s-%s", source, field), SourceURL: ""})
	}
	return citations
}

// costFromUsage approximates USD spend from token counts; the actual
// per-model pricing table is part of the out-of-scope LLM-provider
// collaborator (spec.md §1).
func costFromUsage(usage llmclient.Usage) float64 {
	const inputPer1K = 0.003
	const outputPer1K = 0.015
	return float64(usage.InputTokens)/1000*inputPer1K + float64(usage.OutputTokens)/1000*outputPer1K
}

// runJudge folds in the data-confidence signal one more time (a
// charity with insufficient data cannot reach a favorable wallet tag
// no matter its raw score) and assigns the final judge_score used by
// Export's --judge-threshold gate.
func (p *Pipeline) runJudge(ctx context.Context, charityID string) (float64, error) {
	var eval domain.Evaluation
	ok, err := p.store.Get(ctx, store.TableEvaluations, charityID, &eval)
	if err != nil {
		return 0, fmt.Errorf("judge: load evaluation: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("judge: no evaluation for %s", charityID)
	}

	judgeScore := eval.AmalScore
	if eval.DataConfidence < 0.5 {
		judgeScore = clamp(judgeScore*eval.DataConfidence, 0, 100)
	}
	eval.JudgeScore = judgeScore

	if err := p.store.Upsert(ctx, store.TableEvaluations, charityID, eval); err != nil {
		return 0, fmt.Errorf("judge: %w", err)
	}
	return 0, nil
}
