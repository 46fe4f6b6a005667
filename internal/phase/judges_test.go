package phase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/phase"
	"github.com/amalresearch/evalpipeline/internal/store"
	"github.com/amalresearch/evalpipeline/internal/store/filestore"
)

func TestJudgesCrawl_WarnsWhenWebsiteNeverSucceeded(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	j := phase.NewJudges(st)

	issues := j.Crawl(context.Background(), "12-3456789")
	require.Len(t, issues, 1)
	assert.Equal(t, domain.SeverityWarn, issues[0].Severity)
}

func TestJudgesCrawl_PassesWhenWebsiteSucceeded(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), store.TableRawScrapedData, store.RowKey("12-3456789", domain.SourceWebsite), domain.RawRecord{Success: true}))

	j := phase.NewJudges(st)
	assert.Empty(t, j.Crawl(context.Background(), "12-3456789"))
}

func TestJudgesSynthesize_ErrorsOnMissingName(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	j := phase.NewJudges(st)

	issues := j.Synthesize(context.Background(), "12-3456789")
	require.Len(t, issues, 1)
	assert.Equal(t, domain.SeverityError, issues[0].Severity)
}

func TestJudgesSynthesize_WarnsOnMissingMissionOnly(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), store.TableCharityData, "12-3456789", domain.CharityData{Name: "X"}))

	j := phase.NewJudges(st)
	issues := j.Synthesize(context.Background(), "12-3456789")
	require.Len(t, issues, 1)
	assert.Equal(t, domain.SeverityWarn, issues[0].Severity)
}

func TestJudgesBaseline_ErrorsOnOutOfRangeScore(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), store.TableEvaluations, "12-3456789", domain.Evaluation{AmalScore: 150}))

	j := phase.NewJudges(st)
	issues := j.Baseline(context.Background(), "12-3456789")
	assert.NotEmpty(t, issues)
	assert.Equal(t, domain.SeverityError, issues[0].Severity)
}

func TestJudgesJudge_ErrorsOnInvalidWalletTag(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), store.TableEvaluations, "12-3456789", domain.Evaluation{JudgeScore: 50, WalletTag: "NOT-A-REAL-TAG"}))

	j := phase.NewJudges(st)
	issues := j.Judge(context.Background(), "12-3456789")
	require.NotEmpty(t, issues)
	assert.Equal(t, domain.SeverityError, issues[0].Severity)
}

func TestJudgesJudge_PassesOnValidEvaluation(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), store.TableEvaluations, "12-3456789", domain.Evaluation{JudgeScore: 80, WalletTag: domain.WalletZakatEligible}))

	j := phase.NewJudges(st)
	assert.Empty(t, j.Judge(context.Background(), "12-3456789"))
}

func TestJudgesRich_WarnsWhenNarrativeHasNoCitations(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), store.TableEvaluations, "12-3456789", domain.Evaluation{RichNarrative: "text"}))

	j := phase.NewJudges(st)
	issues := j.Rich(context.Background(), "12-3456789")
	require.Len(t, issues, 1)
	assert.Equal(t, domain.SeverityWarn, issues[0].Severity)
}

func TestJudgesExport_PassesWhenDetailAgreesWithEvaluation(t *testing.T) {
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), store.TableEvaluations, "12-3456789", domain.Evaluation{AmalScore: 60, WalletTag: domain.WalletSadaqahGeneral}))

	j := phase.NewJudges(st)
	assert.Empty(t, j.Export(context.Background(), "12-3456789"))
}
