package pipeline

import (
	"context"
	"fmt"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/phase"
	"github.com/amalresearch/evalpipeline/internal/store"
)

// runExport writes this charity's detail document when its judge
// score clears cfg.JudgeThreshold, then rebuilds the charities.json
// index additively per spec.md §4.12 — previously exported summaries
// for charities untouched this run are retained even if only one
// charity's export ran in this call to RunCharity.
func (p *Pipeline) runExport(ctx context.Context, charityID string) (float64, error) {
	var eval domain.Evaluation
	ok, err := p.store.Get(ctx, store.TableEvaluations, charityID, &eval)
	if err != nil {
		return 0, fmt.Errorf("export: load evaluation: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("export: no evaluation for %s", charityID)
	}
	if eval.JudgeScore < p.cfg.JudgeThreshold {
		return 0, nil
	}

	var data domain.CharityData
	p.store.Get(ctx, store.TableCharityData, charityID, &data)

	detail := phase.BuildExportDetail(charityID, data, eval)
	if err := p.exporter.WriteDetail(detail); err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}

	summary := phase.ExportSummary{
		EIN:       detail.EIN,
		Name:      detail.Name,
		Tier:      detail.Tier,
		AmalScore: detail.AmalEvaluation.AmalScore,
		WalletTag: detail.AmalEvaluation.WalletTag,
	}
	// source_commit is stamped by the phase runner's own checkpoint
	// commit (store.Commit), not by this per-charity export step;
	// RebuildIndex only needs a label, so leave it to the caller's
	// next checkpoint to give the index a real commit hash.
	if _, err := p.exporter.RebuildIndex("", []phase.ExportSummary{summary}); err != nil {
		return 0, fmt.Errorf("export: rebuild index: %w", err)
	}
	return 0, nil
}
