// Package pdfdoc discovers, classifies, prioritizes, downloads and
// parses the PDF documents linked from a crawled charity page, per
// spec.md §4.7.
//
// Grounded on the teacher's internal/assets.LocalResolver: the same
// download-hash-dedupe shape, retargeted from Markdown image assets
// to charity-disclosure PDFs. Document-type patterns, exclusion
// matchers and fiscal-year patterns are grounded on
// original_source/data-pipeline/src/utils/pdf_downloader.py, the
// implementation this package's behavior was distilled from.
package pdfdoc

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/amalresearch/evalpipeline/internal/domain"
)

// Link is one candidate PDF found on a page, per spec.md §4.7's
// {url, anchor_text, context} identification output.
type Link struct {
	URL        string
	AnchorText string
	Context    string
}

var pdfHrefRe = regexp.MustCompile(`(?i)\.pdf(\?|#|$)`)
var pdfAnchorWordRe = regexp.MustCompile(`(?i)\bpdf\b`)

// Identify scans html for <a> elements that look like PDF links: an
// href ending in .pdf, anchor text mentioning "pdf", or a
// type="application/pdf" attribute. href values are resolved against
// base.
func Identify(html string, base *url.URL) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		anchorText := strings.TrimSpace(sel.Text())
		typeAttr, _ := sel.Attr("type")

		isPDF := pdfHrefRe.MatchString(href) ||
			pdfAnchorWordRe.MatchString(anchorText) ||
			strings.EqualFold(typeAttr, "application/pdf")
		if !isPDF {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}

		context := ""
		if parent := sel.Parent(); parent != nil {
			context = strings.TrimSpace(parent.Text())
			if len(context) > 200 {
				context = context[:200]
			}
		}

		links = append(links, Link{URL: resolved.String(), AnchorText: anchorText, Context: context})
	})

	return links, nil
}

// exclusionPatterns are the conservative Layer-1 filters: documents
// that are clearly irrelevant regardless of type. Legal documents
// naming the charity as a party are deliberately let through.
var exclusionPatterns = map[string][]*regexp.Regexp{
	"confidential": {
		regexp.MustCompile(`(?i)\bconfidential\b`),
		regexp.MustCompile(`(?i)\bprivileged\b`),
		regexp.MustCompile(`(?i)attorney[.\s-]client`),
	},
	"third_party_agreement": {
		regexp.MustCompile(`(?i)settlement\s+agreement`),
		regexp.MustCompile(`(?i)\bnda\b`),
		regexp.MustCompile(`(?i)non[.\s-]disclosure`),
	},
}

// ShouldExclude reports whether l must be dropped before classification,
// and why.
func ShouldExclude(l Link) (bool, string) {
	combined := strings.ToLower(l.AnchorText + " " + l.Context + " " + l.URL)
	for reason, patterns := range exclusionPatterns {
		for _, p := range patterns {
			if p.MatchString(combined) {
				return true, reason
			}
		}
	}
	return false, ""
}

// documentPatterns classifies a survivor into one of the fixed
// PDFDocumentType values. Checked in a stable order so that the first
// matching, highest-priority type wins when a document's text matches
// more than one pattern set.
var documentTypeOrder = []domain.PDFDocumentType{
	domain.PDFForm990,
	domain.PDFAuditReport,
	domain.PDFFinancialStatement,
	domain.PDFImpactReport,
	domain.PDFEvaluationReport,
	domain.PDFTheoryOfChange,
	domain.PDFAnnualReport,
	domain.PDFProgramReport,
	domain.PDFStrategicPlan,
	domain.PDFGovernance,
}

var documentPatterns = map[domain.PDFDocumentType][]*regexp.Regexp{
	domain.PDFForm990: {
		regexp.MustCompile(`(?i)form\s*990`),
		regexp.MustCompile(`(?i)990[-_]?pf`),
		regexp.MustCompile(`(?i)tax\s+(form|return)`),
		regexp.MustCompile(`(?i)irs\s+form`),
		regexp.MustCompile(`(?i)exempt\s+organization`),
	},
	domain.PDFAuditReport: {
		regexp.MustCompile(`(?i)audit(?:ed)?\s+(?:financial\s+)?report`),
		regexp.MustCompile(`(?i)independent\s+audit`),
		regexp.MustCompile(`(?i)auditor'?s?\s+report`),
	},
	domain.PDFFinancialStatement: {
		regexp.MustCompile(`(?i)financial\s+statement`),
		regexp.MustCompile(`(?i)statement\s+of\s+financial`),
		regexp.MustCompile(`(?i)consolidated\s+financial`),
		regexp.MustCompile(`(?i)/financial`),
	},
	domain.PDFImpactReport: {
		regexp.MustCompile(`(?i)impact\s+report`),
		regexp.MustCompile(`(?i)outcome[s]?\s+report`),
		regexp.MustCompile(`(?i)results?\s+report`),
		regexp.MustCompile(`(?i)/impact`),
	},
	domain.PDFEvaluationReport: {
		regexp.MustCompile(`(?i)evaluation\s+report`),
		regexp.MustCompile(`(?i)program\s+evaluation`),
		regexp.MustCompile(`(?i)third[- ]party\s+evaluation`),
	},
	domain.PDFTheoryOfChange: {
		regexp.MustCompile(`(?i)theory\s+of\s+change`),
		regexp.MustCompile(`(?i)logic\s+model`),
	},
	domain.PDFAnnualReport: {
		regexp.MustCompile(`(?i)annual\s+report`),
		regexp.MustCompile(`(?i)annual[-_]report`),
		regexp.MustCompile(`(?i)year\s+in\s+review`),
	},
	domain.PDFProgramReport: {
		regexp.MustCompile(`(?i)program\s+report`),
		regexp.MustCompile(`(?i)project\s+report`),
		regexp.MustCompile(`(?i)activity\s+report`),
	},
	domain.PDFStrategicPlan: {
		regexp.MustCompile(`(?i)strategic\s+plan`),
		regexp.MustCompile(`(?i)multi[- ]year\s+plan`),
	},
	domain.PDFGovernance: {
		regexp.MustCompile(`(?i)governance\s+report`),
		regexp.MustCompile(`(?i)board\s+report`),
		regexp.MustCompile(`(?i)transparency\s+report`),
	},
}

// Classify assigns l's document type, checked against both the
// anchor/context text and the URL path, falling back to PDFOther.
func Classify(l Link) domain.PDFDocumentType {
	text := strings.ToLower(l.AnchorText + " " + l.Context)
	path := ""
	if u, err := url.Parse(l.URL); err == nil {
		path = strings.ToLower(u.Path)
	}

	for _, t := range documentTypeOrder {
		for _, p := range documentPatterns[t] {
			if p.MatchString(text) || p.MatchString(path) {
				return t
			}
		}
	}
	return domain.PDFOther
}

var fiscalYearPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:FY|fiscal\s+year)\s*(\d{4})`),
	regexp.MustCompile(`(?i)(\d{4})\s*annual\s+report`),
	regexp.MustCompile(`(?i)(\d{4})\s*financial`),
	regexp.MustCompile(`\d{4}[-_](\d{4})`),
}

// ExtractFiscalYear looks for a plausible four-digit year (1990-2100)
// in l's anchor text or context.
func ExtractFiscalYear(l Link) (int, bool) {
	text := l.AnchorText + " " + l.Context
	for _, p := range fiscalYearPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[len(m)-1])
		if err != nil {
			continue
		}
		if year >= 1990 && year <= 2100 {
			return year, true
		}
	}
	return 0, false
}

// typePriority ranks document types from most (1) to least (11)
// important, mirroring the listed order in spec.md §4.7.
var typePriority = map[domain.PDFDocumentType]int{
	domain.PDFForm990:            1,
	domain.PDFAuditReport:        2,
	domain.PDFFinancialStatement: 3,
	domain.PDFImpactReport:       4,
	domain.PDFEvaluationReport:   5,
	domain.PDFTheoryOfChange:     6,
	domain.PDFAnnualReport:       7,
	domain.PDFProgramReport:      8,
	domain.PDFStrategicPlan:      9,
	domain.PDFGovernance:         10,
	domain.PDFOther:              11,
}

// Candidate is a classified, fiscal-year-tagged PDF link awaiting
// prioritization.
type Candidate struct {
	Link
	DocumentType domain.PDFDocumentType
	FiscalYear   int // 0 when unknown
}

// priorityScore computes spec.md §4.7's (type_priority × 10) +
// (current_year − fiscal_year); a missing fiscal year is treated as
// current (recency term 0), neither penalizing nor favoring it.
func priorityScore(c Candidate, currentYear int) int {
	recency := 0
	if c.FiscalYear > 0 {
		recency = currentYear - c.FiscalYear
	}
	return typePriority[c.DocumentType]*10 + recency
}

// maxDocumentAgeYears is spec.md §4.7's "last 5 years only" window.
const maxDocumentAgeYears = 5

// Prioritize drops candidates older than maxDocumentAgeYears and
// returns the top n by ascending priority score (lower is better:
// higher-priority type, more recent fiscal year).
func Prioritize(candidates []Candidate, currentYear, n int) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.FiscalYear > 0 && currentYear-c.FiscalYear > maxDocumentAgeYears {
			continue
		}
		kept = append(kept, c)
	}

	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && priorityScore(kept[j], currentYear) < priorityScore(kept[j-1], currentYear); j-- {
			kept[j], kept[j-1] = kept[j-1], kept[j]
		}
	}

	if n >= 0 && len(kept) > n {
		kept = kept[:n]
	}
	return kept
}

// Discover runs the full identify → exclude → classify → tag pipeline
// over one fetched page's HTML.
func Discover(html string, base *url.URL) ([]Candidate, error) {
	links, err := Identify(html, base)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(links))
	for _, l := range links {
		if excluded, _ := ShouldExclude(l); excluded {
			continue
		}
		fiscalYear, _ := ExtractFiscalYear(l)
		candidates = append(candidates, Candidate{
			Link:         l,
			DocumentType: Classify(l),
			FiscalYear:   fiscalYear,
		})
	}
	return candidates, nil
}
