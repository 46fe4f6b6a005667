package phase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/amalresearch/evalpipeline/internal/domain"
)

// ConfidenceScores mirrors spec.md §6's amalEvaluation.confidence_scores.
type ConfidenceScores struct {
	Impact        float64 `json:"impact"`
	Alignment     float64 `json:"alignment"`
	DataConfidence float64 `json:"data_confidence"`
}

// AmalEvaluation is spec.md §6's amalEvaluation block.
type AmalEvaluation struct {
	AmalScore        float64          `json:"amal_score"`
	ConfidenceScores ConfidenceScores `json:"confidence_scores"`
	WalletTag        string           `json:"wallet_tag"`
	BaselineNarrative BaselineNarrative `json:"baseline_narrative"`
	RichNarrative    *RichNarrative   `json:"rich_narrative,omitempty"`
}

// BaselineNarrative is spec.md §6's baseline_narrative block.
type BaselineNarrative struct {
	Headline  string   `json:"headline"`
	Summary   string   `json:"summary"`
	Strengths []string `json:"strengths"`
}

// RichNarrative is spec.md §6's optional rich_narrative block.
type RichNarrative struct {
	Text          string             `json:"text"`
	AllCitations  []domain.Citation  `json:"all_citations"`
}

// ExportDetail is the per-charity export document, spec.md §6's
// "{name, ein, id, category, tier, amalEvaluation, mission,
// ui_signals_v1, …}". Category and ui_signals_v1's exact shape are
// not fully specified (the high-level schema elides fields with
// "…") — see DESIGN.md's Open Question decision.
type ExportDetail struct {
	Name           string         `json:"name"`
	EIN            string         `json:"ein"`
	ID             string         `json:"id"`
	Category       string         `json:"category,omitempty"`
	Tier           string         `json:"tier"`
	AmalEvaluation AmalEvaluation `json:"amalEvaluation"`
	Mission        string         `json:"mission"`
	UISignalsV1    UISignals      `json:"ui_signals_v1"`
}

// UISignals is a minimal projection sufficient to satisfy spec.md
// §8's index/detail consistency invariant; its full shape belongs to
// the UI layer, which is out of scope here.
type UISignals struct {
	AmalScore float64 `json:"amal_score"`
	WalletTag string  `json:"wallet_tag"`
}

// ExportSummary is one entry in the charities.json index, a
// projection of ExportDetail per spec.md §6.
type ExportSummary struct {
	EIN       string  `json:"ein"`
	Name      string  `json:"name"`
	Tier      string  `json:"tier"`
	AmalScore float64 `json:"amal_score"`
	WalletTag string  `json:"wallet_tag"`
}

// ExportIndex is the charities.json document.
type ExportIndex struct {
	SourceCommit string          `json:"source_commit"`
	Charities    []ExportSummary `json:"charities"`
}

// BuildExportDetail assembles the export document from the merged
// charity document and its accumulated evaluation, per spec.md §6.
func BuildExportDetail(charityID string, data domain.CharityData, eval domain.Evaluation) ExportDetail {
	detail := ExportDetail{
		Name: data.Name,
		EIN:  charityID,
		ID:   charityID,
		Tier: eval.Tier,
		Mission: data.Mission,
		AmalEvaluation: AmalEvaluation{
			AmalScore: eval.AmalScore,
			ConfidenceScores: ConfidenceScores{
				Impact:         eval.ImpactConfidence,
				Alignment:      eval.AlignmentConfidence,
				DataConfidence: eval.DataConfidence,
			},
			WalletTag: eval.WalletTag,
			BaselineNarrative: BaselineNarrative{
				Headline:  eval.BaselineHeadline,
				Summary:   eval.BaselineSummary,
				Strengths: eval.BaselineStrengths,
			},
		},
		UISignalsV1: UISignals{
			AmalScore: eval.AmalScore,
			WalletTag: eval.WalletTag,
		},
	}
	if eval.RichNarrative != "" {
		detail.AmalEvaluation.RichNarrative = &RichNarrative{
			Text:         eval.RichNarrative,
			AllCitations: eval.AllCitations,
		}
	}
	return detail
}

// Exporter writes per-charity export documents atomically and rebuilds
// the charities.json index additively, per spec.md §4.12.
//
// Grounded on store/filestore.FileStore's write-temp-then-rename
// pattern (itself the teacher's internal/storage.LocalSink directory
// convention, made genuinely atomic) — duplicated here as a small
// unexported helper rather than factored into a shared package, since
// the only shared logic is a three-line os.CreateTemp/Rename pair.
type Exporter struct {
	root string
	mu   sync.Mutex
}

// NewExporter roots the exporter at exportRoot (spec.md §6's
// <export_root>), creating charities/ beneath it.
func NewExporter(exportRoot string) (*Exporter, error) {
	if err := os.MkdirAll(filepath.Join(exportRoot, "charities"), 0o755); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return &Exporter{root: exportRoot}, nil
}

func (e *Exporter) detailPath(charityID string) string {
	return filepath.Join(e.root, "charities", "charity-"+charityID+".json")
}

func (e *Exporter) indexPath() string {
	return filepath.Join(e.root, "charities.json")
}

// WriteDetail atomically writes one charity's export document.
func (e *Exporter) WriteDetail(detail ExportDetail) error {
	data, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode %s: %w", detail.EIN, err)
	}
	return atomicWriteFile(e.detailPath(detail.EIN), data)
}

// ReadDetail loads a previously exported detail document, if any.
func (e *Exporter) ReadDetail(charityID string) (ExportDetail, bool, error) {
	data, err := os.ReadFile(e.detailPath(charityID))
	if err != nil {
		if os.IsNotExist(err) {
			return ExportDetail{}, false, nil
		}
		return ExportDetail{}, false, err
	}
	var detail ExportDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return ExportDetail{}, false, err
	}
	return detail, true, nil
}

// RebuildIndex reads the existing charities.json (if any), merges in
// newlyExported summaries keyed by EIN (new entries win on conflict),
// and writes the result back atomically. Per spec.md §4.12: "additive
// — if a subset of EINs fails to re-export this run, previously
// exported summaries are retained." Returns an error (without writing)
// if newlyExported is empty and no prior index exists, since then
// nothing eligible could be exported at all.
func (e *Exporter) RebuildIndex(sourceCommit string, newlyExported []ExportSummary) (ExportIndex, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, _ := e.readIndex()

	byEIN := make(map[string]ExportSummary, len(existing.Charities)+len(newlyExported))
	for _, s := range existing.Charities {
		byEIN[s.EIN] = s
	}
	for _, s := range newlyExported {
		byEIN[s.EIN] = s
	}

	if len(byEIN) == 0 {
		return ExportIndex{}, fmt.Errorf("export: no eligible charity could be exported")
	}

	merged := make([]ExportSummary, 0, len(byEIN))
	for _, s := range byEIN {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].EIN < merged[j].EIN })

	index := ExportIndex{SourceCommit: sourceCommit, Charities: merged}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return ExportIndex{}, fmt.Errorf("export: encode index: %w", err)
	}
	if err := atomicWriteFile(e.indexPath(), data); err != nil {
		return ExportIndex{}, err
	}
	return index, nil
}

func (e *Exporter) readIndex() (ExportIndex, bool) {
	data, err := os.ReadFile(e.indexPath())
	if err != nil {
		return ExportIndex{}, false
	}
	var index ExportIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return ExportIndex{}, false
	}
	return index, true
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
