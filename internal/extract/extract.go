// Package extract runs spec.md §4.9's three-layer content extraction
// over one fetched page: structured data (JSON-LD/Open Graph/
// microdata), deterministic regex extraction, and optional LLM
// extraction conditioned on page type.
//
// Grounded on the teacher's internal/extractor.DomExtractor for the
// layered-fallback shape (semantic container, then known selectors,
// then heuristic chrome removal), generalized from "find the main
// content node" to "pull typed fields out of the page". The teacher's
// hand-rolled golang.org/x/net/html DOM walk is replaced with
// goquery's selector API throughout, since goquery is already the
// pack-wide HTML library for link/structure work (internal/crawl,
// internal/pdfdoc) and the teacher's own stdlib walk is its one
// documented exception rather than a pattern worth preserving.
package extract

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/amalresearch/evalpipeline/internal/crawl"
	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/llmclient"
)

// Extractor runs the three extraction layers over one page. A nil
// LLMClient disables layer 3 entirely (the "use_llm" hint from
// spec.md §4.9 is false).
type Extractor struct {
	LLMClient llmclient.Client
	Now       func() time.Time
}

// New builds an Extractor. now defaults to time.Now; tests override it
// for deterministic timestamps.
func New(llmClient llmclient.Client) *Extractor {
	return &Extractor{LLMClient: llmClient, Now: time.Now}
}

// Outcome is one page's full extraction result: the field-level
// provenance records plus the crawl-facing summary.
type Outcome struct {
	Results []domain.ExtractionResult
	crawl.ExtractionOutcome
}

// Run executes all three layers over (pageURL, html) and returns every
// recovered field plus the crawl-facing summary, per spec.md §4.9.
func (e *Extractor) Run(ctx context.Context, pageURL, html string) Outcome {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	ts := now()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Outcome{ExtractionOutcome: crawl.ExtractionOutcome{
			HadData:       false,
			FailureReason: "not_html",
		}}
	}

	var methods []string
	var results []domain.ExtractionResult

	structured := extractStructured(doc, pageURL, ts)
	if len(structured) > 0 {
		methods = append(methods, "structured")
		results = append(results, structured...)
	}

	deterministic := extractDeterministic(doc, html, pageURL, ts)
	if len(deterministic) > 0 {
		methods = append(methods, "deterministic")
		results = append(results, deterministic...)
	}

	jsNeeded := false
	failureReason := ""
	if e.LLMClient != nil {
		llmResults, needsJS, reason := extractLLM(ctx, e.LLMClient, doc, pageURL, ts)
		if len(llmResults) > 0 {
			methods = append(methods, "llm")
			results = append(results, llmResults...)
		}
		jsNeeded = needsJS
		failureReason = reason
	}

	return Outcome{
		Results: results,
		ExtractionOutcome: crawl.ExtractionOutcome{
			HadData:       len(results) > 0,
			MethodsTried:  methods,
			JSNeeded:      jsNeeded,
			FailureReason: failureReason,
		},
	}
}

// CrawlAdapter satisfies internal/crawl.Extractor while draining the
// field-level ExtractionResults the crawler's own interface has no
// room for; the website collector reads them back via Drain after the
// crawl completes.
type CrawlAdapter struct {
	extractor *Extractor
	ctx       context.Context

	mu      sync.Mutex
	results []domain.ExtractionResult
}

// NewCrawlAdapter wraps an Extractor for use as a crawl.Extractor. ctx
// is the crawl's own context, since crawl.Extractor.Extract's
// signature has no context parameter.
func NewCrawlAdapter(ctx context.Context, extractor *Extractor) *CrawlAdapter {
	return &CrawlAdapter{extractor: extractor, ctx: ctx}
}

func (a *CrawlAdapter) Extract(pageURL, html string) crawl.ExtractionOutcome {
	outcome := a.extractor.Run(a.ctx, pageURL, html)
	a.mu.Lock()
	a.results = append(a.results, outcome.Results...)
	a.mu.Unlock()
	return outcome.ExtractionOutcome
}

// Drain returns every ExtractionResult accumulated across the crawl
// and resets the adapter's buffer.
func (a *CrawlAdapter) Drain() []domain.ExtractionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.results
	a.results = nil
	return out
}
