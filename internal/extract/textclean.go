package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// cleanForLLM strips page chrome to compact text for prompting, per
// spec.md §4.9 step 3's "precision pass first; relaxed pass if empty".
//
// Grounded on two sources: the teacher's
// internal/extractor.removeExplicitChromes (nav/header/footer/aside
// plus class/id chrome-keyword removal) for the precision pass, and
// original_source/data-pipeline/src/utils/text_cleaner.py's
// favor_precision toggle with a relaxed fallback for the two-step
// shape. The teacher's manual html.Node clone-and-walk is replaced
// with a reparsed copy of the document (cloneDocument) plus goquery's
// Remove on that copy, since goquery is already the pack-wide HTML
// library.
var chromeElements = []string{"script", "style", "nav", "header", "footer", "aside", "noscript"}

var chromeKeywords = []string{
	"nav", "sidebar", "menu", "breadcrumb", "search", "footer", "header",
	"cookie", "consent", "version", "language", "theme", "edit", "github",
}

// cleanForLLM returns the cleaned, whitespace-normalized text.
// favorPrecision=true strips chrome elements and chrome-keyword
// class/id nodes; false only strips script/style/noscript, matching
// text_cleaner.py's relaxed fallback.
func cleanForLLM(doc *goquery.Document, favorPrecision bool) string {
	clone := cloneDocument(doc)

	clone.Find("script").Remove()
	clone.Find("style").Remove()
	clone.Find("noscript").Remove()

	if favorPrecision {
		for _, tag := range chromeElements {
			clone.Find(tag).Remove()
		}
		clone.Find("*").Each(func(_ int, s *goquery.Selection) {
			class, _ := s.Attr("class")
			id, _ := s.Attr("id")
			combined := strings.ToLower(class + " " + id)
			for _, kw := range chromeKeywords {
				if strings.Contains(combined, kw) {
					s.Remove()
					return
				}
			}
		})
	}

	return normalizeWhitespace(clone.Text())
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// cloneDocument reparses the document's own rendered HTML so chrome
// removal never mutates the caller's tree (the structured/deterministic
// passes run against the same *goquery.Document).
func cloneDocument(doc *goquery.Document) *goquery.Document {
	html, err := doc.Html()
	if err != nil {
		return doc
	}
	clone, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return doc
	}
	return clone
}
