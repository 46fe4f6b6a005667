package ratingorg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalresearch/evalpipeline/internal/collector"
	"github.com/amalresearch/evalpipeline/internal/collector/ratingorg"
)

func TestFetch_MissingProfileURLIsOptionalMiss(t *testing.T) {
	src := ratingorg.New(collector.Deps{})
	result := src.Fetch(t.Context(), "12-3456789", nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "no rating-org profile URL")
}

func TestParse_ExtractsNameAndEIN(t *testing.T) {
	html := []byte(`<html><body><h1>Helping Hands Inc</h1><p>EIN: 12-3456789</p></body></html>`)
	src := ratingorg.New(collector.Deps{})

	result := src.Parse(t.Context(), html, "12-3456789", nil)
	require.True(t, result.OK)

	profile := result.ParsedData["rating_org_profile"].(map[string]any)
	assert.Equal(t, "Helping Hands Inc", profile["name"])
	assert.Equal(t, "12-3456789", profile["ein"])
}

func TestParse_NoBeaconsMeansNoRatingAndNoCultureAward(t *testing.T) {
	html := []byte(`<html><body><h1>No Beacons Org</h1></body></html>`)
	src := ratingorg.New(collector.Deps{})

	result := src.Parse(t.Context(), html, "12-3456789", nil)
	require.True(t, result.OK)

	profile := result.ParsedData["rating_org_profile"].(map[string]any)
	assert.Equal(t, false, profile["has_rating"])
	assert.Equal(t, false, profile["has_culture_award"])
}

func TestParse_CultureScoreAloneIsEncompassAward(t *testing.T) {
	html := []byte(`<html><body>
<div data-beacon="culture" style="width:80%"></div>
</body></html>`)
	src := ratingorg.New(collector.Deps{})

	result := src.Parse(t.Context(), html, "12-3456789", nil)
	require.True(t, result.OK)

	profile := result.ParsedData["rating_org_profile"].(map[string]any)
	assert.Equal(t, true, profile["has_rating"])
	assert.Equal(t, true, profile["has_culture_award"])
	assert.Equal(t, 80.0, profile["culture_score"])
}

func TestParse_FullBeaconSetIsNotCultureOnlyAward(t *testing.T) {
	html := []byte(`<html><body>
<div data-beacon="impact" style="width:90%"></div>
<div data-beacon="culture" style="width:70%"></div>
</body></html>`)
	src := ratingorg.New(collector.Deps{})

	result := src.Parse(t.Context(), html, "12-3456789", nil)
	require.True(t, result.OK)

	profile := result.ParsedData["rating_org_profile"].(map[string]any)
	assert.Equal(t, true, profile["has_rating"])
	assert.Equal(t, false, profile["has_culture_award"])
}
