package phase

import (
	"context"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/store"
)

// Judges builds the seven inline quality-judge functions from
// spec.md §4.12, one per phase, each reading the phase's just-
// materialized output back out of backingStore to validate it.
//
// Grounded on original_source/data-pipeline/streaming_runner.py's
// PHASE_QUALITY_JUDGES dispatch table (phase name → judge class, any
// ERROR-severity issue is a hard phase failure) — the judge bodies
// themselves are new, built directly from the invariants spec.md §8
// names, since the original judge implementations were not part of
// the retrieved source set.
type Judges struct {
	store store.Store
}

// NewJudges binds judge functions to backingStore.
func NewJudges(backingStore store.Store) *Judges {
	return &Judges{store: backingStore}
}

func (j *Judges) loadRecord(ctx context.Context, charityID, source string) (domain.RawRecord, bool) {
	var rec domain.RawRecord
	ok, _ := j.store.Get(ctx, store.TableRawScrapedData, store.RowKey(charityID, source), &rec)
	return rec, ok
}

func (j *Judges) loadCharityData(ctx context.Context, charityID string) (domain.CharityData, bool) {
	var data domain.CharityData
	ok, _ := j.store.Get(ctx, store.TableCharityData, charityID, &data)
	return data, ok
}

func (j *Judges) loadEvaluation(ctx context.Context, charityID string) (domain.Evaluation, bool) {
	var eval domain.Evaluation
	ok, _ := j.store.Get(ctx, store.TableEvaluations, charityID, &eval)
	return eval, ok
}

func issue(phase string, severity domain.JudgeSeverity, message string) domain.JudgeIssue {
	return domain.JudgeIssue{Phase: phase, Severity: severity, Message: message}
}

// Crawl warns when the website source never produced a successful
// fetch; it does not hard-fail, since a charity's own site can be
// legitimately unreachable while every other source still succeeds.
func (j *Judges) Crawl(ctx context.Context, charityID string) []domain.JudgeIssue {
	rec, ok := j.loadRecord(ctx, charityID, domain.SourceWebsite)
	if !ok || !rec.Success {
		return []domain.JudgeIssue{issue(Crawl, domain.SeverityWarn, "website crawl produced no successful fetch")}
	}
	return nil
}

// Extract warns when synthesize's input would be empty — no field
// was extracted from any page at all.
func (j *Judges) Extract(ctx context.Context, charityID string) []domain.JudgeIssue {
	rec, ok := j.loadRecord(ctx, charityID, domain.SourceWebsite)
	if !ok || len(rec.ParsedPayload) == 0 {
		return []domain.JudgeIssue{issue(Extract, domain.SeverityWarn, "no fields extracted from website pages")}
	}
	return nil
}

// Discover records a WARN for the empty discover phase: the pipeline's
// discover step runs no queries and finds no facts, which is a
// successful run rather than a failure.
func (j *Judges) Discover(context.Context, string) []domain.JudgeIssue {
	return []domain.JudgeIssue{issue(Discover, domain.SeverityWarn, "discover phase found no facts")}
}

// Synthesize errors if the merged document cannot identify the
// charity at all — an empty name means every downstream narrative
// would be about nothing.
func (j *Judges) Synthesize(ctx context.Context, charityID string) []domain.JudgeIssue {
	data, ok := j.loadCharityData(ctx, charityID)
	if !ok || data.Name == "" {
		return []domain.JudgeIssue{issue(Synthesize, domain.SeverityError, "synthesized charity document has no name")}
	}
	var issues []domain.JudgeIssue
	if data.Mission == "" {
		issues = append(issues, issue(Synthesize, domain.SeverityWarn, "synthesized document has no mission statement"))
	}
	return issues
}

// Baseline errors if the computed score or confidence bands fall
// outside their defined ranges from spec.md §6.
func (j *Judges) Baseline(ctx context.Context, charityID string) []domain.JudgeIssue {
	eval, ok := j.loadEvaluation(ctx, charityID)
	if !ok {
		return []domain.JudgeIssue{issue(Baseline, domain.SeverityError, "no evaluation materialized")}
	}
	var issues []domain.JudgeIssue
	if eval.AmalScore < 0 || eval.AmalScore > 100 {
		issues = append(issues, issue(Baseline, domain.SeverityError, "amal_score out of [0,100]"))
	}
	if eval.ImpactConfidence < 0 || eval.ImpactConfidence > 50 {
		issues = append(issues, issue(Baseline, domain.SeverityError, "impact confidence out of [0,50]"))
	}
	if eval.AlignmentConfidence < 0 || eval.AlignmentConfidence > 50 {
		issues = append(issues, issue(Baseline, domain.SeverityError, "alignment confidence out of [0,50]"))
	}
	if eval.BaselineSummary == "" {
		issues = append(issues, issue(Baseline, domain.SeverityWarn, "baseline narrative has no summary"))
	}
	return issues
}

// Rich warns when a rich narrative exists with no supporting
// citations, since every claim in it is then unverifiable.
func (j *Judges) Rich(ctx context.Context, charityID string) []domain.JudgeIssue {
	eval, ok := j.loadEvaluation(ctx, charityID)
	if !ok || eval.RichNarrative == "" {
		return nil
	}
	if len(eval.AllCitations) == 0 {
		return []domain.JudgeIssue{issue(Rich, domain.SeverityWarn, "rich narrative has no citations")}
	}
	return nil
}

var validWalletTags = map[string]bool{
	domain.WalletZakatEligible:    true,
	domain.WalletSadaqahEligible:  true,
	domain.WalletSadaqahStrategic: true,
	domain.WalletSadaqahGeneral:   true,
	domain.WalletInsufficientData: true,
}

// Judge errors if the judge score is out of range or the wallet tag
// is not one of spec.md §6's closed set.
func (j *Judges) Judge(ctx context.Context, charityID string) []domain.JudgeIssue {
	eval, ok := j.loadEvaluation(ctx, charityID)
	if !ok {
		return []domain.JudgeIssue{issue(Judge, domain.SeverityError, "no evaluation materialized")}
	}
	var issues []domain.JudgeIssue
	if eval.JudgeScore < 0 || eval.JudgeScore > 100 {
		issues = append(issues, issue(Judge, domain.SeverityError, "judge_score out of [0,100]"))
	}
	if !validWalletTags[eval.WalletTag] {
		issues = append(issues, issue(Judge, domain.SeverityError, "wallet_tag not in the defined set"))
	}
	return issues
}

// Export errors when the just-written detail document and the
// evaluation it was built from disagree on the fields spec.md §8
// item 10 requires to stay consistent.
func (j *Judges) Export(ctx context.Context, charityID string) []domain.JudgeIssue {
	eval, ok := j.loadEvaluation(ctx, charityID)
	if !ok {
		return []domain.JudgeIssue{issue(Export, domain.SeverityError, "no evaluation to export")}
	}
	data, _ := j.loadCharityData(ctx, charityID)
	detail := BuildExportDetail(charityID, data, eval)

	var issues []domain.JudgeIssue
	if detail.Tier != eval.Tier || detail.AmalEvaluation.AmalScore != eval.AmalScore || detail.AmalEvaluation.WalletTag != eval.WalletTag {
		issues = append(issues, issue(Export, domain.SeverityError, "export detail disagrees with evaluation"))
	}
	return issues
}
