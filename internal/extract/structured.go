package extract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/amalresearch/evalpipeline/internal/domain"
)

// jsonLDOrg is the subset of schema.org Organization/NGO/NonProfit
// JSON-LD this pipeline cares about. Unrecognized keys are ignored;
// a JSON-LD block that doesn't decode into any of these fields
// contributes nothing rather than failing the page.
type jsonLDOrg struct {
	Type         any    `json:"@type"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	URL          string `json:"url"`
	Logo         any    `json:"logo"`
	Email        string `json:"email"`
	Telephone    string `json:"telephone"`
	FoundingDate string `json:"foundingDate"`
	TaxID        string `json:"taxID"`
	SameAs       []string `json:"sameAs"`
	Address      any    `json:"address"`
}

// extractStructured runs the teacher-grounded "layer 1" pass:
// JSON-LD <script type="application/ld+json">, Open Graph meta tags,
// and microdata itemprop attributes, per spec.md §4.9 step 1.
func extractStructured(doc *goquery.Document, pageURL string, now time.Time) []domain.ExtractionResult {
	var out []domain.ExtractionResult
	out = append(out, extractJSONLD(doc, pageURL, now)...)
	out = append(out, extractOpenGraph(doc, pageURL, now)...)
	out = append(out, extractMicrodata(doc, pageURL, now)...)
	return out
}

func extractJSONLD(doc *goquery.Document, pageURL string, now time.Time) []domain.ExtractionResult {
	var out []domain.ExtractionResult
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var org jsonLDOrg
		if err := json.Unmarshal([]byte(s.Text()), &org); err != nil {
			return
		}
		add := func(field string, value any) {
			if value == nil || value == "" {
				return
			}
			out = append(out, domain.ExtractionResult{
				FieldName:        field,
				FieldValue:       value,
				ExtractionSource: "json-ld",
				Confidence:       1.0,
				PageURL:          pageURL,
				Timestamp:        now,
			})
		}
		add("name", org.Name)
		add("mission", org.Description)
		add("url", org.URL)
		add("contact_email", org.Email)
		add("contact_phone", org.Telephone)
		add("ein", org.TaxID)
		if logo, ok := org.Logo.(string); ok {
			add("logo_url", logo)
		}
		if len(org.SameAs) > 0 {
			add("social_media", org.SameAs)
		}
		if org.FoundingDate != "" {
			if year := foundingYear(org.FoundingDate); year > 0 {
				add("founded_year", year)
			}
		}
	})
	return out
}

func foundingYear(raw string) int {
	if len(raw) < 4 {
		return 0
	}
	year := 0
	for _, c := range raw[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		year = year*10 + int(c-'0')
	}
	return year
}

// ogFieldMap maps Open Graph meta properties to this pipeline's
// factual field names.
var ogFieldMap = map[string]string{
	"og:title":       "name",
	"og:description": "mission",
	"og:url":         "url",
	"og:image":       "logo_url",
}

func extractOpenGraph(doc *goquery.Document, pageURL string, now time.Time) []domain.ExtractionResult {
	var out []domain.ExtractionResult
	doc.Find(`meta[property]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		field, ok := ogFieldMap[strings.ToLower(prop)]
		if !ok {
			return
		}
		content, _ := s.Attr("content")
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		out = append(out, domain.ExtractionResult{
			FieldName:        field,
			FieldValue:       content,
			ExtractionSource: "opengraph",
			Confidence:       0.9,
			PageURL:          pageURL,
			Timestamp:        now,
		})
	})
	return out
}

// microdataFieldMap maps schema.org itemprop names to this pipeline's
// factual field names.
var microdataFieldMap = map[string]string{
	"name":        "name",
	"description": "mission",
	"email":       "contact_email",
	"telephone":   "contact_phone",
	"url":         "url",
	"logo":        "logo_url",
}

func extractMicrodata(doc *goquery.Document, pageURL string, now time.Time) []domain.ExtractionResult {
	var out []domain.ExtractionResult
	doc.Find(`[itemprop]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("itemprop")
		field, ok := microdataFieldMap[strings.ToLower(prop)]
		if !ok {
			return
		}
		value := microdataValue(s)
		if value == "" {
			return
		}
		out = append(out, domain.ExtractionResult{
			FieldName:        field,
			FieldValue:       value,
			ExtractionSource: "microdata",
			Confidence:       0.85,
			PageURL:          pageURL,
			Timestamp:        now,
		})
	})
	return out
}

// microdataValue reads an itemprop node's value the way schema.org
// consumers do: href/src/content attribute first, text content
// otherwise.
func microdataValue(s *goquery.Selection) string {
	for _, attr := range []string{"content", "href", "src"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(s.Text())
}
