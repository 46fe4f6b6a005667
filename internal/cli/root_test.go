package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalresearch/evalpipeline/internal/phase"
)

// resetFlags restores every package-level flag variable to its
// zero/default value between tests; the flags are plain package
// globals (mirroring the teacher's internal/cli package), so tests
// that set them must clean up after themselves.
func resetFlags() {
	charitiesFile = ""
	einFlag = ""
	workers = 4
	model = "claude-3-5-haiku-latest"
	verbose = false
	clean = false
	judgeThreshold = 0
	skipExport = false
	forceAll = false
	forcePhases = nil
	dryRun = false
	cacheStatus = false
	checkpointN = 0
	tagName = ""
	noTag = false
}

func TestLoadCharitiesByEIN(t *testing.T) {
	resetFlags()
	defer resetFlags()
	einFlag = "12-3456789"

	charities, err := loadCharities()
	require.NoError(t, err)
	require.Len(t, charities, 1)
	assert.Equal(t, "12-3456789", charities[0].EIN)
}

func TestLoadCharitiesByEIN_InvalidEIN(t *testing.T) {
	resetFlags()
	defer resetFlags()
	einFlag = "not-an-ein"

	_, err := loadCharities()
	assert.Error(t, err)
}

func TestLoadCharitiesFromFile(t *testing.T) {
	resetFlags()
	defer resetFlags()

	path := filepath.Join(t.TempDir(), "charities.txt")
	contents := "Helping Hands|12-3456789|helpinghands.org\n" +
		"\n" +
		"  \n" +
		"Second Charity|98-7654321|https://second.org\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	charitiesFile = path

	charities, err := loadCharities()
	require.NoError(t, err)
	require.Len(t, charities, 2)
	assert.Equal(t, "Helping Hands", charities[0].Name)
	assert.Equal(t, "12-3456789", charities[0].EIN)
	assert.Equal(t, "https://helpinghands.org", charities[0].Website)
	assert.Equal(t, "https://second.org", charities[1].Website)
}

func TestLoadCharitiesFromFile_DedupesByEIN(t *testing.T) {
	resetFlags()
	defer resetFlags()

	path := filepath.Join(t.TempDir(), "charities.txt")
	contents := "First Name|12-3456789|first.org\n" +
		"Duplicate EIN Different Name|12-3456789|duplicate.org\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	charitiesFile = path

	charities, err := loadCharities()
	require.NoError(t, err)
	require.Len(t, charities, 1)
	assert.Equal(t, "First Name", charities[0].Name, "first occurrence of a duplicate EIN wins")
}

func TestLoadCharitiesFromFile_MalformedLine(t *testing.T) {
	resetFlags()
	defer resetFlags()

	path := filepath.Join(t.TempDir(), "charities.txt")
	require.NoError(t, os.WriteFile(path, []byte("missing-pipes-entirely\n"), 0o644))
	charitiesFile = path

	_, err := loadCharities()
	assert.Error(t, err)
}

func TestLoadCharitiesFromFile_NoValidRows(t *testing.T) {
	resetFlags()
	defer resetFlags()

	path := filepath.Join(t.TempDir(), "charities.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  \n"), 0o644))
	charitiesFile = path

	_, err := loadCharities()
	assert.Error(t, err)
}

func TestRunRoot_RequiresExactlyOneSource(t *testing.T) {
	resetFlags()
	defer resetFlags()

	err := runRoot(rootCmd, nil)
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitInvalidInput, ee.code)
}

func TestRunRoot_RejectsBothSourcesAtOnce(t *testing.T) {
	resetFlags()
	defer resetFlags()
	charitiesFile = "some-file.txt"
	einFlag = "12-3456789"

	err := runRoot(rootCmd, nil)
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitInvalidInput, ee.code)
}

func TestRunRoot_TagAndNoTagMutuallyExclusive(t *testing.T) {
	resetFlags()
	defer resetFlags()
	einFlag = "12-3456789"
	noTag = true
	tagName = "a-tag"

	err := runRoot(rootCmd, nil)
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitInvalidInput, ee.code)
}

func TestExitError_UnwrapAndMessage(t *testing.T) {
	inner := assert.AnError
	ee := &exitError{code: ExitFailure, err: inner}
	assert.Equal(t, inner.Error(), ee.Error())
	assert.Equal(t, inner, ee.Unwrap())

	var empty exitError
	assert.Equal(t, "", empty.Error())
}

func TestWithoutExport(t *testing.T) {
	phases := []phase.Phase{
		{Name: phase.Synthesize},
		{Name: phase.Export},
		{Name: phase.Judge},
	}
	filtered := withoutExport(phases)
	require.Len(t, filtered, 2)
	for _, p := range filtered {
		assert.NotEqual(t, phase.Export, p.Name)
	}
}

func TestPluralSuffix(t *testing.T) {
	assert.Equal(t, "y", pluralSuffix(1))
	assert.Equal(t, "ies", pluralSuffix(0))
	assert.Equal(t, "ies", pluralSuffix(2))
}
