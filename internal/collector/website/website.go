// Package website is the collector that actually drives a charity's
// own site through the full crawl → extract → PDF-discovery pipeline
// and hands the result to internal/merge, unlike the other five
// collectors which each talk to one external API/HTML source.
//
// Grounded on spec.md §4.8's "wraps internal/crawl + internal/pdfdoc +
// internal/extract" note: this package owns no crawling logic of its
// own, it only assembles the already-built internal/crawl.Crawler
// (sitemap-first site crawl), internal/pdfdoc (Form 990 discovery +
// download + text parse), and internal/extract (three-layer field
// extraction) behind the collector.Source contract so the phase
// runner can drive it like any other source.
package website

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/amalresearch/evalpipeline/internal/collector"
	"github.com/amalresearch/evalpipeline/internal/crawl"
	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/extract"
	"github.com/amalresearch/evalpipeline/internal/fetch"
	"github.com/amalresearch/evalpipeline/internal/htmlcache"
	"github.com/amalresearch/evalpipeline/internal/obslog"
	"github.com/amalresearch/evalpipeline/internal/pdfdoc"
	"github.com/amalresearch/evalpipeline/internal/ratelimit"
	"github.com/amalresearch/evalpipeline/internal/robots"
	"github.com/amalresearch/evalpipeline/internal/robots/cache"
	"github.com/amalresearch/evalpipeline/internal/sitemap"
	"github.com/amalresearch/evalpipeline/pkg/retry"
	"github.com/amalresearch/evalpipeline/pkg/timeutil"
)

const schemaKey = "website_crawl"

func init() {
	collector.Register(domain.SourceWebsite, New)
}

// New builds a Source with its own fully self-contained Crawler,
// Extractor and PDF Downloader from the shared HTTP client, rate
// limiter and LLM client in deps. A pipeline assembly layer wanting to
// reuse a single long-lived Crawler/htmlcache across many charities
// should construct Source directly with NewWithComponents instead of
// going through the registry.
func New(deps collector.Deps) collector.Source {
	cacheDir := deps.CacheDir
	if cacheDir == "" {
		cacheDir = "./.cache/html"
	}
	pageCache, err := htmlcache.New(cacheDir, 30*24*time.Hour)
	if err != nil {
		pageCache = nil
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New()
	}

	recorder := obslog.New(io.Discard, false)

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	robot := robots.NewCachedRobot(cache.NewMemoryCache())
	robot.Init("AmalEvalPipeline/1.0")

	fetcher := fetch.New("AmalEvalPipeline/1.0", pageCache, recorder)
	sitemapDiscoverer := sitemap.New(httpClient)
	extractor := extract.New(deps.LLM)
	downloader := pdfdoc.NewDownloader()

	return NewWithComponents(fetcher, pageCache, robot, sitemapDiscoverer, limiter, recorder, extractor, downloader)
}

// NewWithComponents builds a Source from already-constructed
// components, for a pipeline assembly layer that wants to share one
// fetcher/cache/robot/limiter across every charity in a run instead of
// building fresh ones per source instance. The crawl.Crawler itself is
// built fresh per Fetch call, since its Extractor must be bound to
// that call's context (extract.NewCrawlAdapter takes a ctx).
func NewWithComponents(fetcher crawl.Fetcher, pageCache *htmlcache.Cache, robot crawl.RobotChecker, sitemapDiscoverer *sitemap.Discoverer, limiter *ratelimit.Limiter, recorder *obslog.Recorder, extractor *extract.Extractor, downloader *pdfdoc.Downloader) collector.Source {
	return &Source{
		fetcher:           fetcher,
		cache:             pageCache,
		robot:             robot,
		sitemapDiscoverer: sitemapDiscoverer,
		limiter:           limiter,
		recorder:          recorder,
		extractor:         extractor,
		downloader:        downloader,
	}
}

type Source struct {
	fetcher           crawl.Fetcher
	cache             *htmlcache.Cache
	robot             crawl.RobotChecker
	sitemapDiscoverer *sitemap.Discoverer
	limiter           *ratelimit.Limiter
	recorder          *obslog.Recorder
	extractor         *extract.Extractor
	downloader        *pdfdoc.Downloader
}

func (s *Source) SourceName() string { return domain.SourceWebsite }
func (s *Source) SchemaKey() string  { return schemaKey }

// bundle is what Fetch serializes into RawData: Fetch does all the
// real network work (crawl + PDF download), since a website has no
// single HTTP response to replay later the way the API-backed
// collectors do. Parse then only decodes what Fetch already computed.
type bundle struct {
	Origin            string                    `json:"origin"`
	Mode              string                    `json:"mode"`
	TimedOut          bool                      `json:"timed_out"`
	Pages             []crawl.PageResult        `json:"pages"`
	ExtractionResults []domain.ExtractionResult `json:"extraction_results"`
	Form990           *pdfdoc.Form990Data       `json:"form_990,omitempty"`
}

// Fetch expects opts["origin"] to be the charity's normalized website
// URL (domain.NormalizeWebsite output). It crawls the site and runs
// extraction over every fetched page. It then fetches the homepage
// again, discovers its PDF links, downloads the single top-priority
// candidate and keeps it only if it parses as a Form 990; PDF links
// on other crawled pages are not considered.
func (s *Source) Fetch(ctx context.Context, charityID string, opts map[string]string) collector.FetchResult {
	origin := opts["origin"]
	if origin == "" {
		return collector.FetchResult{Err: "no website origin available"}
	}

	adapter := extract.NewCrawlAdapter(ctx, s.extractor)
	crawler := crawl.New(s.fetcher, s.cache, s.robot, s.sitemapDiscoverer, s.limiter, adapter, s.recorder)

	state := &domain.CrawlState{
		Origin:          origin,
		TriedURLs:       map[string]struct{}{},
		PagesWithData:   map[string]struct{}{},
		PagesWithNoData: map[string]struct{}{},
		PagesNeedingJS:  map[string]struct{}{},
	}

	result, err := crawler.Run(ctx, origin, state)
	if err != nil {
		return collector.FetchResult{Err: fmt.Sprintf("crawl failed: %v", err)}
	}

	b := bundle{
		Origin:            origin,
		Mode:              result.Mode,
		TimedOut:          result.TimedOut,
		Pages:             result.Pages,
		ExtractionResults: adapter.Drain(),
	}

	if form990 := s.discoverAndParseForm990(ctx, charityID, origin, result); form990 != nil {
		b.Form990 = form990
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return collector.FetchResult{Err: fmt.Sprintf("failed to serialize crawl bundle: %v", err)}
	}
	return collector.FetchResult{OK: true, RawData: raw, ContentType: "json"}
}

func (s *Source) discoverAndParseForm990(ctx context.Context, charityID, origin string, result crawl.Result) *pdfdoc.Form990Data {
	base, err := url.Parse(origin)
	if err != nil || s.downloader == nil || s.fetcher == nil {
		return nil
	}

	homepage, fetchErr := s.fetcher.Fetch(ctx, origin, false, 0)
	if fetchErr != nil {
		return nil
	}

	candidates, err := pdfdoc.Discover(homepage.HTML, base)
	if err != nil || len(candidates) == 0 {
		return nil
	}

	prioritized := pdfdoc.Prioritize(candidates, time.Now().Year(), 1)
	if len(prioritized) == 0 {
		return nil
	}

	retryParam := retry.NewRetryParam(0, 0, 1, 3, timeutil.NewBackoffParam(time.Second, 2, 4*time.Second))
	outcome, pdfErr := s.downloader.Download(ctx, charityID, prioritized[0].Link.URL, retryParam)
	if pdfErr != nil {
		return nil
	}

	data, found := pdfdoc.ParseForm990(outcome.Data)
	if !found {
		return nil
	}
	return &data
}

// Parse decodes the bundle Fetch already assembled; no further
// parsing work happens here, since Fetch already ran the full
// crawl/extract/PDF pipeline.
func (s *Source) Parse(ctx context.Context, raw []byte, charityID string, opts map[string]string) collector.ParseResult {
	var b bundle
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return collector.ParseResult{Err: domain.ValidationError("invalid crawl bundle: %v", err)}
	}

	profile := map[string]any{
		"origin":         b.Origin,
		"mode":           b.Mode,
		"timed_out":      b.TimedOut,
		"pages_fetched":  len(b.Pages),
		"fields_found":   len(b.ExtractionResults),
	}
	if b.Form990 != nil {
		profile["form_990"] = b.Form990
	}

	return collector.ParseResult{OK: true, ParsedData: map[string]any{schemaKey: profile}}
}

// ExtractionResults recovers the in-memory field-level extraction
// records from a raw bundle, for callers (the Synthesize phase) that
// need to hand them to internal/merge.Merge rather than the flattened
// ParsedPayload map.
func ExtractionResults(raw []byte) ([]domain.ExtractionResult, error) {
	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return b.ExtractionResults, nil
}
