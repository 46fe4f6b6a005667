package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractOpenGraph_MapsKnownProperties(t *testing.T) {
	html := `<html><head>
		<meta property="og:title" content="Helping Hands" />
		<meta property="og:description" content="We feed families." />
		<meta property="unrelated" content="ignored" />
	</head><body></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	results := extractOpenGraph(doc, "https://example.org/", time.Now())
	require.Len(t, results, 2)
	assert.Equal(t, "name", results[0].FieldName)
	assert.Equal(t, "opengraph", results[0].ExtractionSource)
}

func TestExtractMicrodata_ReadsContentAttributeFirst(t *testing.T) {
	html := `<html><body>
		<span itemprop="email" content="info@example.org">info (at) example (dot) org</span>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	results := extractMicrodata(doc, "https://example.org/", time.Now())
	require.Len(t, results, 1)
	assert.Equal(t, "info@example.org", results[0].FieldValue)
}

func TestExtractJSONLD_IgnoresMalformedBlock(t *testing.T) {
	html := `<html><head><script type="application/ld+json">not json</script></head></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	results := extractJSONLD(doc, "https://example.org/", time.Now())
	assert.Empty(t, results)
}

func TestFoundingYear_RejectsNonNumericPrefix(t *testing.T) {
	assert.Equal(t, 0, foundingYear("abcd-01-01"))
	assert.Equal(t, 1999, foundingYear("1999-06-01"))
}
