package irs990_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalresearch/evalpipeline/internal/collector"
	"github.com/amalresearch/evalpipeline/internal/collector/irs990"
)

const samplePayload = `{
  "organization": {"ein": 123456789, "name": "Helping Hands", "ntee_code": "P20", "filing_requirement_code": 1},
  "filings_with_data": [
    {"tax_prd_yr": 2023, "totrevenue": 500000, "totfuncexpns": 420000, "totassetsend": 900000}
  ]
}`

func TestFetch_InvalidEINFormatFailsWithoutRequest(t *testing.T) {
	src := irs990.New(collector.Deps{}).(*irs990.Source)
	result := src.Fetch(t.Context(), "not-an-ein", nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "invalid EIN")
}

func TestFetch_200ReturnsRawJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	src := newSourceAgainst(t, srv.URL)
	result := src.(*irs990.Source).Fetch(t.Context(), "12-3456789", nil)
	require.True(t, result.OK)
	assert.NotEmpty(t, result.RawData)
}

func TestParse_EINMismatchIsValidationError(t *testing.T) {
	src := irs990.New(collector.Deps{})
	result := src.Parse(t.Context(), []byte(samplePayload), "98-7654321", nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "VALIDATION_ERROR")
}

func TestParse_ValidPayloadBuildsProfile(t *testing.T) {
	src := irs990.New(collector.Deps{})
	result := src.Parse(t.Context(), []byte(samplePayload), "12-3456789", nil)
	require.True(t, result.OK)

	profile, ok := result.ParsedData["propublica_990"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Helping Hands", profile["name"])
	assert.Equal(t, false, profile["no_filings"])
}

func TestParse_NoFilingsStillReturnsOrgLevelData(t *testing.T) {
	src := irs990.New(collector.Deps{})
	payload := `{"organization": {"ein": 123456789, "name": "New Org"}, "filings_with_data": []}`
	result := src.Parse(t.Context(), []byte(payload), "12-3456789", nil)
	require.True(t, result.OK)

	profile := result.ParsedData["propublica_990"].(map[string]any)
	assert.Equal(t, true, profile["no_filings"])
}

func TestParse_MalformedJSONIsValidationError(t *testing.T) {
	src := irs990.New(collector.Deps{})
	result := src.Parse(t.Context(), []byte("not json"), "12-3456789", nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "VALIDATION_ERROR")
}

func newSourceAgainst(t *testing.T, base string) collector.Source {
	t.Helper()
	client := &http.Client{Transport: rewriteHost{base: base}}
	return irs990.New(collector.Deps{HTTPClient: client})
}

type rewriteHost struct {
	base string
}

func (r rewriteHost) RoundTrip(req *http.Request) (*http.Response, error) {
	u, _ := req.URL.Parse(r.base)
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return http.DefaultTransport.RoundTrip(req)
}
