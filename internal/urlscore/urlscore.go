// Package urlscore scores a crawl candidate URL 0-100 across five
// curated dimensions, per spec.md §4.5.
//
// Grounded on the teacher's internal/extractor content-scoring
// approach (weighted keyword/structure scoring, clamped output),
// retargeted from "is this DOM node the main content" to "is this URL
// worth crawling" — same shape, same clamp-to-bound discipline, pure
// functions over strings with no external dependency.
package urlscore

import (
	"net/url"
	"regexp"
	"strings"
)

// Dimension is one of the five scoring axes.
type Dimension string

const (
	DimTrust         Dimension = "trust"
	DimEvidence      Dimension = "evidence"
	DimEffectiveness Dimension = "effectiveness"
	DimFit           Dimension = "fit"
	DimDonation      Dimension = "donation"
)

var dimensionKeywords = map[Dimension][]string{
	DimTrust:         {"about", "annual-report", "accredited", "accreditation", "rating", "transparency", "governance", "board", "financial", "990"},
	DimEvidence:      {"impact", "outcomes", "evidence", "research", "study", "report", "results", "metrics"},
	DimEffectiveness: {"program", "programs", "effectiveness", "efficiency", "overhead", "cost-per"},
	DimFit:           {"mission", "vision", "values", "zakat", "sadaqah", "islamic", "muslim", "faith"},
	DimDonation:      {"donate", "give", "giving", "contribute", "support"},
}

// canonicalShortPaths earn a flat bonus: these are exactly the pages
// most charity evaluators need and are reliably short, stable URLs.
var canonicalShortPaths = map[string]struct{}{
	"/about":         {},
	"/about/":        {},
	"/donate":        {},
	"/donate/":       {},
	"/impact":        {},
	"/impact/":       {},
	"/mission":       {},
	"/mission/":      {},
	"/programs":      {},
	"/programs/":     {},
	"/annual-report": {},
}

var penaltyKeywords = []string{"/blog", "/news", "/events", "/careers", "/jobs", "/press"}

// contentBoostKeywords trigger apply_content_boost when present in a
// fetched page's body; primarily zakat-related markers for this
// domain, per spec.md §4.5.
var contentBoostKeywords = []string{"zakat", "sadaqah", "nisab", "halal charity"}

// Score evaluates a candidate URL against anchor text, page title and
// h1, returning the clamped 0-100 score and its primary dimension.
func Score(rawURL, anchorText, title, h1 string) (int, Dimension) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, ""
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	if path == "/" {
		return 70, ""
	}

	context := strings.ToLower(anchorText + " " + title + " " + h1)
	lowerPath := strings.ToLower(path)

	best := 0
	var primary Dimension
	// Fixed order so ties go to the earlier dimension (trust first).
	for _, dim := range []Dimension{DimTrust, DimEvidence, DimEffectiveness, DimFit, DimDonation} {
		score, matched := scoreDimension(lowerPath, context, dimensionKeywords[dim])
		if matched > 0 && score > best {
			best = score
			primary = dim
		}
	}

	total := best

	if _, matched := scoreDimension(lowerPath, context, dimensionKeywords[DimDonation]); matched > 0 {
		total += donationBonus(lowerPath, context)
	}

	if _, ok := canonicalShortPaths[path]; ok {
		total += 30
	}

	for _, p := range penaltyKeywords {
		if strings.Contains(lowerPath, p) {
			total -= 15
			break
		}
	}

	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) == 1 && len(path) > 50 {
		total -= 20
	}

	return clamp(total), primary
}

// scoreDimension returns the per-dimension score (pre-donation-bonus,
// pre-canonical-bonus) and the number of matched keywords.
func scoreDimension(lowerPath, context string, keywords []string) (int, int) {
	pathMatch := false
	matches := 0
	for _, kw := range keywords {
		inPath := strings.Contains(lowerPath, kw)
		inContext := containsWord(context, kw)
		if inPath || inContext {
			matches++
		}
		if inPath {
			pathMatch = true
		}
	}
	if matches == 0 {
		return 0, 0
	}

	score := 15
	if pathMatch {
		score = 20
	}
	if matches > 1 {
		score += 5
	}
	if score > 25 {
		score = 25
	}
	return score, matches
}

func donationBonus(lowerPath, context string) int {
	score, matches := scoreDimension(lowerPath, context, dimensionKeywords[DimDonation])
	if matches == 0 {
		return 0
	}
	bonus := score
	if bonus > 15 {
		bonus = 15
	}
	return bonus
}

func containsWord(haystack, word string) bool {
	if haystack == "" || word == "" {
		return false
	}
	pattern := `\b` + regexp.QuoteMeta(word) + `\b`
	matched, _ := regexp.MatchString(pattern, haystack)
	return matched
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ApplyContentBoost adds +50 if any content-boost keyword appears in
// html, returning the boosted score and whether a boost fired. A
// boost firing re-classifies the page's primary dimension to FIT,
// since these markers are mission-fit signals for this domain.
func ApplyContentBoost(score int, primary Dimension, html string) (int, Dimension) {
	lower := strings.ToLower(html)
	for _, kw := range contentBoostKeywords {
		if strings.Contains(lower, kw) {
			return clamp(score + 50), DimFit
		}
	}
	return score, primary
}

// PageType classifies a URL path for LLM prompt conditioning, per
// spec.md §4.9.
type PageType string

const (
	PageHomepage PageType = "homepage"
	PageZakat    PageType = "zakat"
	PageAbout    PageType = "about"
	PagePrograms PageType = "programs"
	PageImpact   PageType = "impact"
	PageDonate   PageType = "donate"
	PageContact  PageType = "contact"
	PageOther    PageType = "other"
)

// ClassifyPage returns the PageType for rawURL based on its path.
func ClassifyPage(rawURL string) PageType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PageOther
	}
	path := strings.ToLower(u.Path)
	switch {
	case path == "" || path == "/":
		return PageHomepage
	case strings.Contains(path, "zakat"):
		return PageZakat
	case strings.Contains(path, "about"):
		return PageAbout
	case strings.Contains(path, "program"):
		return PagePrograms
	case strings.Contains(path, "impact") || strings.Contains(path, "outcomes"):
		return PageImpact
	case strings.Contains(path, "donate") || strings.Contains(path, "give"):
		return PageDonate
	case strings.Contains(path, "contact"):
		return PageContact
	default:
		return PageOther
	}
}

// Candidate is one scored crawl candidate, ready for top-N selection.
type Candidate struct {
	URL       string
	Score     int
	Depth     int
	Primary   Dimension
	IsDonate  bool
	IsHome    bool
}

// SelectTopN sorts candidates by (score desc, depth asc, url asc) and
// returns at most n, guaranteeing at least one homepage, two per
// dimension, and one-to-two donation pages when available before
// filling the remainder by score, per spec.md §4.5.
func SelectTopN(candidates []Candidate, n int) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sortCandidates(sorted)

	picked := make(map[string]struct{})
	var result []Candidate

	take := func(c Candidate) {
		if _, ok := picked[c.URL]; ok {
			return
		}
		picked[c.URL] = struct{}{}
		result = append(result, c)
	}

	for _, c := range sorted {
		if c.IsHome {
			take(c)
			break
		}
	}

	perDim := make(map[Dimension]int)
	for _, c := range sorted {
		if c.Primary == "" || perDim[c.Primary] >= 2 {
			continue
		}
		take(c)
		perDim[c.Primary]++
	}

	donateCount := 0
	for _, c := range sorted {
		if c.IsDonate && donateCount < 2 {
			take(c)
			donateCount++
		}
	}

	for _, c := range sorted {
		if len(result) >= n {
			break
		}
		take(c)
	}

	if len(result) > n {
		result = result[:n]
	}
	return result
}

func sortCandidates(c []Candidate) {
	// Insertion sort is adequate: candidate lists are at most a few
	// hundred URLs (crawl budget is 50 pages).
	for i := 1; i < len(c); i++ {
		j := i
		for j > 0 && less(c[j], c[j-1]) {
			c[j], c[j-1] = c[j-1], c[j]
			j--
		}
	}
}

func less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.URL < b.URL
}
