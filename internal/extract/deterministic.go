package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/amalresearch/evalpipeline/internal/domain"
)

// einPatterns and the other tables in this file are ported near-verbatim
// from original_source/data-pipeline/src/collectors/web_collector.py's
// _extract_ein/_extract_donate_url/_extract_social_media/
// _extract_tax_deductible, per spec.md §4.9 step 2.
var einPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)EIN:?\s*([0-9]{2}-?[0-9]{7})`),
	regexp.MustCompile(`(?i)Tax\s*ID:?\s*([0-9]{2}-?[0-9]{7})`),
	regexp.MustCompile(`(?i)Federal\s*Tax\s*ID:?\s*([0-9]{2}-?[0-9]{7})`),
	regexp.MustCompile(`(?i)501\(c\)\(3\)[^\d]*([0-9]{2}-?[0-9]{7})`),
}

var emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.\s]?\d{4}`),
	regexp.MustCompile(`\d{3}[-.\s]\d{3}[-.\s]\d{4}`),
}

var donateKeywords = []string{"donate", "give", "contribute", "support"}

var socialPlatformPatterns = map[string]*regexp.Regexp{
	"facebook":  regexp.MustCompile(`(?i)facebook\.com/[^/"'\s]+`),
	"twitter":   regexp.MustCompile(`(?i)twitter\.com/[^/"'\s]+`),
	"instagram": regexp.MustCompile(`(?i)instagram\.com/[^/"'\s]+`),
	"linkedin":  regexp.MustCompile(`(?i)linkedin\.com/(?:company|in)/[^/"'\s]+`),
	"youtube":   regexp.MustCompile(`(?i)youtube\.com/(?:c|channel|user)/[^/"'\s]+`),
}

var taxDeductiblePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)tax[- ]deductible`),
	regexp.MustCompile(`(?i)501\(c\)\(3\)`),
	regexp.MustCompile(`(?i)donations?\s+are\s+deductible`),
}

// extractDeterministic runs the regex-over-HTML pass (spec.md §4.9
// step 2): tax identifier, email, phone, social URLs, donate URL, and
// a boolean tax-deductible mention.
func extractDeterministic(doc *goquery.Document, rawHTML, pageURL string, now time.Time) []domain.ExtractionResult {
	text := doc.Text()
	var out []domain.ExtractionResult

	add := func(field, source string, value any, confidence float64) {
		out = append(out, domain.ExtractionResult{
			FieldName:        field,
			FieldValue:       value,
			ExtractionSource: source,
			Confidence:       confidence,
			PageURL:          pageURL,
			Timestamp:        now,
		})
	}

	if ein, ok := extractEIN(text); ok {
		add("ein", "regex-ein", ein, 0.75)
	}
	if m := emailRe.FindString(text); m != "" {
		add("contact_email", "regex-contact", m, 0.7)
	}
	if phone, ok := extractPhone(doc); ok {
		add("contact_phone", "regex-contact", phone, 0.6)
	}
	if donateURL, ok := extractDonateURL(doc, pageURL); ok {
		add("donate_url", "regex-donate", donateURL, 0.7)
	}
	if social := extractSocialMedia(rawHTML); len(social) > 0 {
		add("social_media", "regex-social", social, 0.8)
	}
	if isTaxDeductible(text) {
		add("tax_deductible", "regex-contact", true, 0.6)
	}

	return out
}

func extractEIN(text string) (string, bool) {
	for _, re := range einPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		digits := strings.ReplaceAll(m[1], "-", "")
		if len(digits) == 9 {
			return digits[:2] + "-" + digits[2:], true
		}
	}
	return "", false
}

func extractPhone(doc *goquery.Document) (string, bool) {
	if tel := doc.Find(`a[href^="tel:"]`).First(); tel.Length() > 0 {
		if text := strings.TrimSpace(tel.Text()); text != "" {
			return text, true
		}
	}
	text := doc.Text()
	for _, re := range phonePatterns {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

func extractDonateURL(doc *goquery.Document, pageURL string) (string, bool) {
	base, err := url.Parse(pageURL)
	resolve := func(href string) string {
		if err != nil || base == nil {
			return href
		}
		ref, err := url.Parse(href)
		if err != nil {
			return href
		}
		return base.ResolveReference(ref).String()
	}

	for _, kw := range donateKeywords {
		var found string
		doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			text := strings.ToLower(s.Text())
			if strings.Contains(text, kw) || strings.Contains(strings.ToLower(href), kw) {
				found = resolve(href)
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

func extractSocialMedia(rawHTML string) map[string]string {
	out := make(map[string]string)
	for platform, re := range socialPlatformPatterns {
		if m := re.FindString(rawHTML); m != "" {
			out[platform] = fmt.Sprintf("https://%s", m)
		}
	}
	return out
}

func isTaxDeductible(text string) bool {
	for _, re := range taxDeductiblePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
