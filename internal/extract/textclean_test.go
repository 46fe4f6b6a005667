package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestCleanForLLM_PrecisionStripsNavAndChromeClasses(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<nav>Home About Contact</nav>
		<div class="sidebar-menu">Skip this</div>
		<main>Our mission is to help.</main>
	</body></html>`)

	text := cleanForLLM(doc, true)
	assert.Contains(t, text, "Our mission is to help.")
	assert.NotContains(t, text, "Home About Contact")
	assert.NotContains(t, text, "Skip this")
}

func TestCleanForLLM_RelaxedKeepsNonChromeText(t *testing.T) {
	doc := mustDoc(t, `<html><body><nav>Home</nav><p>Body text here</p></body></html>`)
	text := cleanForLLM(doc, false)
	assert.Contains(t, text, "Body text here")
}

func TestCleanForLLM_StripsScriptAndStyle(t *testing.T) {
	doc := mustDoc(t, `<html><body><script>alert(1)</script><style>.a{}</style><p>Real content</p></body></html>`)
	text := cleanForLLM(doc, true)
	assert.Equal(t, "Real content", text)
}
