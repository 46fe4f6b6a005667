package phase_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/phase"
)

func TestBuildExportDetail_MapsCoreFields(t *testing.T) {
	data := domain.CharityData{Name: "Helping Hands", Mission: "Feed families."}
	eval := domain.Evaluation{
		Tier:                "A",
		AmalScore:           82,
		ImpactConfidence:    40,
		AlignmentConfidence: 35,
		DataConfidence:      0.9,
		WalletTag:           domain.WalletZakatEligible,
		BaselineHeadline:    "Strong local impact",
		BaselineSummary:     "Runs food pantries across three counties.",
	}

	detail := phase.BuildExportDetail("12-3456789", data, eval)
	assert.Equal(t, "12-3456789", detail.EIN)
	assert.Equal(t, "Helping Hands", detail.Name)
	assert.Equal(t, "A", detail.Tier)
	assert.Equal(t, 82.0, detail.AmalEvaluation.AmalScore)
	assert.Equal(t, domain.WalletZakatEligible, detail.AmalEvaluation.WalletTag)
	assert.Nil(t, detail.AmalEvaluation.RichNarrative)
}

func TestBuildExportDetail_IncludesRichNarrativeWhenPresent(t *testing.T) {
	eval := domain.Evaluation{
		RichNarrative: "Detailed history.",
		AllCitations:  []domain.Citation{{ID: "c1", SourceURL: "https://example.org"}},
	}
	detail := phase.BuildExportDetail("12-3456789", domain.CharityData{}, eval)
	require.NotNil(t, detail.AmalEvaluation.RichNarrative)
	assert.Equal(t, "Detailed history.", detail.AmalEvaluation.RichNarrative.Text)
	assert.Len(t, detail.AmalEvaluation.RichNarrative.AllCitations, 1)
}

func TestExporter_WriteDetailAndReadBack(t *testing.T) {
	exporter, err := phase.NewExporter(t.TempDir())
	require.NoError(t, err)

	detail := phase.BuildExportDetail("12-3456789", domain.CharityData{Name: "X"}, domain.Evaluation{Tier: "B"})
	require.NoError(t, exporter.WriteDetail(detail))

	got, ok, err := exporter.ReadDetail("12-3456789")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "X", got.Name)
	assert.Equal(t, "B", got.Tier)
}

func TestExporter_WriteDetailIsAtomic(t *testing.T) {
	root := t.TempDir()
	exporter, err := phase.NewExporter(root)
	require.NoError(t, err)

	detail := phase.BuildExportDetail("12-3456789", domain.CharityData{Name: "X"}, domain.Evaluation{})
	require.NoError(t, exporter.WriteDetail(detail))

	entries, err := filepath.Glob(filepath.Join(root, "charities", ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExporter_RebuildIndexIsAdditive(t *testing.T) {
	exporter, err := phase.NewExporter(t.TempDir())
	require.NoError(t, err)

	_, err = exporter.RebuildIndex("commit-1", []phase.ExportSummary{
		{EIN: "11-1111111", Name: "First"},
		{EIN: "22-2222222", Name: "Second"},
	})
	require.NoError(t, err)

	index, err := exporter.RebuildIndex("commit-2", []phase.ExportSummary{
		{EIN: "33-3333333", Name: "Third"},
	})
	require.NoError(t, err)
	assert.Len(t, index.Charities, 3)
}

func TestExporter_RebuildIndexFailsWhenNothingEverExported(t *testing.T) {
	exporter, err := phase.NewExporter(t.TempDir())
	require.NoError(t, err)

	_, err = exporter.RebuildIndex("commit-1", nil)
	assert.Error(t, err)
}

func TestExporter_RebuildIndexOverwritesSameEIN(t *testing.T) {
	exporter, err := phase.NewExporter(t.TempDir())
	require.NoError(t, err)

	_, err = exporter.RebuildIndex("commit-1", []phase.ExportSummary{{EIN: "11-1111111", Tier: "A"}})
	require.NoError(t, err)

	index, err := exporter.RebuildIndex("commit-2", []phase.ExportSummary{{EIN: "11-1111111", Tier: "B"}})
	require.NoError(t, err)
	require.Len(t, index.Charities, 1)
	assert.Equal(t, "B", index.Charities[0].Tier)
}
