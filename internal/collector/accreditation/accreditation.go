// Package accreditation collects BBB Wise Giving Alliance accreditation
// reports: a shell page that carries a nonce and two numeric IDs, used
// to POST an AJAX call that returns the actually-rendered report HTML.
//
// Grounded on
// original_source/data-pipeline/src/collectors/bbb_collector.py's
// fetch(): GET the shell page, regex out the nonce and
// data-bureau-code/data-source-id attributes, then POST those to
// wp-admin/admin-ajax.php for the rendered report fragment. Uses
// stdlib net/http for both calls (no framework needed for a single
// form POST) and regular expressions for the nonce/id extraction;
// goquery is used only in Parse, to read fields out of the rendered
// report once it has passed the substance check.
package accreditation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/amalresearch/evalpipeline/internal/collector"
	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/ratelimit"
)

const (
	rateLimitKey = "accreditation"
	minInterval  = time.Second
	schemaKey    = "bbb_report"
	ajaxPath     = "/wp-admin/admin-ajax.php"
)

func init() {
	collector.Register(domain.SourceAccreditation, New)
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

func (s *Source) SourceName() string { return domain.SourceAccreditation }
func (s *Source) SchemaKey() string  { return schemaKey }

var (
	nonceRe  = regexp.MustCompile(`"nonce"\s*:\s*"([^"]+)"`)
	bureauRe = regexp.MustCompile(`data-bureau-code="(\d+)"`)
	sourceRe = regexp.MustCompile(`data-source-id="(\d+)"`)
)

type metadata struct {
	ReviewURL  string `json:"review_url"`
	BureauCode string `json:"bureau_code,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
}

// Fetch expects opts["review_url"] (the BBB review page for this
// charity, discovered by a prior search step) and opts["base_url"]
// (the BBB host, to build the AJAX endpoint). A missing review URL is
// an optional miss: not every charity has a BBB page.
func (s *Source) Fetch(ctx context.Context, charityID string, opts map[string]string) collector.FetchResult {
	reviewURL := opts["review_url"]
	if reviewURL == "" {
		return collector.FetchResult{Err: fmt.Sprintf("not found: no BBB review page for %s", charityID)}
	}
	baseURL := opts["base_url"]

	if s.limiter != nil {
		if _, err := s.limiter.Wait(ctx, rateLimitKey, minInterval); err != nil {
			return collector.FetchResult{Err: err.Error()}
		}
	}

	pageHTML, err := s.get(ctx, reviewURL)
	if err != nil {
		return collector.FetchResult{Err: err.Error()}
	}

	nonceMatch := nonceRe.FindStringSubmatch(pageHTML)
	if nonceMatch == nil {
		return shellResult(reviewURL, pageHTML)
	}
	bureauMatch := bureauRe.FindStringSubmatch(pageHTML)
	sourceMatch := sourceRe.FindStringSubmatch(pageHTML)
	if bureauMatch == nil || sourceMatch == nil {
		return shellResult(reviewURL, pageHTML)
	}

	if s.limiter != nil {
		if _, err := s.limiter.Wait(ctx, rateLimitKey, minInterval); err != nil {
			return collector.FetchResult{Err: err.Error()}
		}
	}

	form := url.Values{
		"action":             {"give_load_charity_report"},
		"nonce":              {nonceMatch[1]},
		"bureau_code":        {bureauMatch[1]},
		"source_business_id": {sourceMatch[1]},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+ajaxPath, strings.NewReader(form.Encode()))
	if err != nil {
		return collector.FetchResult{Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := s.client.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return shellResult(reviewURL, pageHTML)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return shellResult(reviewURL, pageHTML)
	}

	var ajax struct {
		Success bool `json:"success"`
		Data    struct {
			HTML string `json:"html"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ajax); err != nil || !ajax.Success || ajax.Data.HTML == "" {
		return shellResult(reviewURL, pageHTML)
	}

	meta := metadata{ReviewURL: reviewURL, BureauCode: bureauMatch[1], SourceID: sourceMatch[1]}
	return collector.FetchResult{OK: true, RawData: withMetadataMarker(meta, ajax.Data.HTML), ContentType: "html"}
}

func shellResult(reviewURL, pageHTML string) collector.FetchResult {
	return collector.FetchResult{OK: true, RawData: withMetadataMarker(metadata{ReviewURL: reviewURL}, pageHTML), ContentType: "html"}
}

func (s *Source) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; AmalEvalPipeline/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
	}
	return string(body), nil
}

// withMetadataMarker prepends the single leading comment-line marker
// spec.md §9 calls for: out-of-band fetch metadata (review URL,
// bureau/source ids) that isn't part of the rendered report itself,
// carried as an HTML comment so the raw payload stays valid HTML.
func withMetadataMarker(meta metadata, body string) []byte {
	encoded, _ := json.Marshal(meta)
	return []byte(fmt.Sprintf("<!-- ACCREDITATION_METADATA: %s -->\n%s", encoded, body))
}

// splitMetadataMarker strips and decodes the leading metadata comment
// written by withMetadataMarker, returning the metadata and the
// remaining report body.
func splitMetadataMarker(raw []byte) (metadata, string) {
	const prefix = "<!-- ACCREDITATION_METADATA: "
	s := string(raw)
	if !strings.HasPrefix(s, prefix) {
		return metadata{}, s
	}
	end := strings.Index(s, " -->\n")
	if end < 0 {
		return metadata{}, s
	}
	jsonPart := s[len(prefix):end]
	var meta metadata
	_ = json.Unmarshal([]byte(jsonPart), &meta)
	return meta, s[end+len(" -->\n"):]
}

// substanceMarkers are present in a real, AJAX-rendered BBB report but
// absent from the unrendered shell template, per bbb_collector.py's
// _check_content_substance.
var substanceMarkers = []string{
	"evaluation-status",
	"standard-item",
	"meets-standards",
	"does-not-meet",
	"Accredited Charity",
	"Standards for Charity",
}

func countSubstanceMarkers(html string) int {
	count := 0
	for _, marker := range substanceMarkers {
		if strings.Contains(html, marker) {
			count++
		}
	}
	return count
}

// Parse checks the substance markers before extracting anything: an
// empty shell (zero markers) is treated as a successful no-data
// result flagged with is_shell=true, in line with the
// accreditation-optional-miss rule in internal/orchestrate, rather
// than a hard failure. Parse does not log the shell; the is_shell
// flag is the only record of it.
func (s *Source) Parse(ctx context.Context, raw []byte, charityID string, opts map[string]string) collector.ParseResult {
	meta, reportHTML := splitMetadataMarker(raw)

	report := map[string]any{"review_url": meta.ReviewURL}

	if countSubstanceMarkers(reportHTML) == 0 {
		report["is_shell"] = true
		return collector.ParseResult{OK: true, ParsedData: map[string]any{schemaKey: report}}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(reportHTML)))
	if err != nil {
		return collector.ParseResult{Err: domain.ValidationError("invalid HTML: %v", err)}
	}

	report["is_shell"] = false
	if status := strings.TrimSpace(doc.Find(".evaluation-status").First().Text()); status != "" {
		report["accreditation_status"] = status
	}

	var standards []string
	doc.Find(".standard-item").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			standards = append(standards, text)
		}
	})
	if len(standards) > 0 {
		report["standards"] = standards
	}

	return collector.ParseResult{OK: true, ParsedData: map[string]any{schemaKey: report}}
}
