// Package profile collects charity profile data from a deterministic,
// server-rendered profile page — no LLM fallback, since the source
// page is plain DOM with no JS-framework payload to reconcile.
//
// Grounded on
// original_source/data-pipeline/src/collectors/charity_navigator.py's
// pure-DOM extraction: beacon scores read from inline style widths,
// CEO info from a fixed header/sibling-paragraph pattern, and a
// placeholder-text filter (candid_beautifulsoup.py's
// PLACEHOLDER_PATTERNS list, reused here since the same "profile not
// yet claimed" boilerplate shows up across rating-org-adjacent sites).
package profile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/amalresearch/evalpipeline/internal/collector"
	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/ratelimit"
)

const (
	rateLimitKey = "profile"
	minInterval  = time.Second
	schemaKey    = "profile_site"
)

func init() {
	collector.Register(domain.SourceProfile, New)
}

func New(deps collector.Deps) collector.Source {
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{client: client, limiter: deps.Limiter}
}

type Source struct {
	client  *http.Client
	limiter *ratelimit.Limiter
}

func (s *Source) SourceName() string { return domain.SourceProfile }
func (s *Source) SchemaKey() string  { return schemaKey }

func (s *Source) Fetch(ctx context.Context, charityID string, opts map[string]string) collector.FetchResult {
	profileURL := opts["profile_url"]
	if profileURL == "" {
		return collector.FetchResult{Err: "no profile URL available"}
	}

	if s.limiter != nil {
		if _, err := s.limiter.Wait(ctx, rateLimitKey, minInterval); err != nil {
			return collector.FetchResult{Err: err.Error()}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return collector.FetchResult{Err: err.Error()}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; AmalEvalPipeline/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return collector.FetchResult{Err: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return collector.FetchResult{Err: fmt.Sprintf("failed to read response body: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return collector.FetchResult{Err: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return collector.FetchResult{OK: true, RawData: body, ContentType: "html"}
}

// placeholderPatterns, lowercased, mark boilerplate text shown for
// unclaimed profiles rather than real content — verbatim intent of
// candid_beautifulsoup.py's PLACEHOLDER_PATTERNS.
var placeholderPatterns = []string{
	"this profile needs more info",
	"needs more info",
	"add a problem overview",
	"login and update",
	"claim your profile",
	"learn about",
}

func isPlaceholder(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range placeholderPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (s *Source) Parse(ctx context.Context, raw []byte, charityID string, opts map[string]string) collector.ParseResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return collector.ParseResult{Err: domain.ValidationError("invalid HTML: %v", err)}
	}

	profile := map[string]any{}

	if name := strings.TrimSpace(doc.Find("h1").First().Text()); name != "" && !isPlaceholder(name) {
		profile["name"] = name
	}

	if mission := findSectionText(doc, "mission"); mission != "" && !isPlaceholder(mission) {
		profile["mission"] = mission
	}

	// CEO name follows a report-section-header / report-section-text
	// sibling pair, per charity_navigator.py's _extract_ceo_info.
	doc.Find("p.report-section-header").EachWithBreak(func(_ int, header *goquery.Selection) bool {
		if !strings.Contains(header.Text(), "Chief Executive Officer") {
			return true
		}
		next := header.Next()
		if next.Is("p.report-section-text") {
			if name := strings.TrimSpace(next.Text()); name != "" {
				profile["ceo_name"] = name
			}
		}
		return false
	})

	// Seal level is only reliable via the title attribute or a
	// section id, never CSS class names (those are re-themed per
	// release and don't track the underlying seal tier).
	if seal, ok := doc.Find("[title*='Seal']").First().Attr("title"); ok {
		profile["seal_level"] = strings.TrimSpace(seal)
	} else if seal := doc.Find("#seal-of-transparency").First().Text(); strings.TrimSpace(seal) != "" {
		profile["seal_level"] = strings.TrimSpace(seal)
	}

	if len(profile) == 0 {
		return collector.ParseResult{Err: domain.ValidationError("no usable fields extracted from profile page")}
	}

	return collector.ParseResult{OK: true, ParsedData: map[string]any{schemaKey: profile}}
}

func findSectionText(doc *goquery.Document, id string) string {
	sel := doc.Find("#" + id)
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(sel.First().Text())
}
