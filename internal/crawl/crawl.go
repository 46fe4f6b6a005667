// Package crawl drives the per-site website crawl from spec.md §4.6:
// sitemap-first discovery with URL scoring, a same-domain BFS
// fallback, a bounded worker pool, a per-domain rate-limiter gate, and
// a hard wall-clock budget.
//
// Grounded on the teacher's internal/scheduler.Scheduler.ExecuteCrawling,
// which is the sole admission chokepoint driving a fetch/extract loop
// for one site at a time. Crawler keeps that "single control-plane
// authority" shape but generalizes the loop from one page in flight to
// a bounded pool of golang.org/x/sync/errgroup workers, since spec.md
// §4.6 allows up to 10 concurrent fetches against one origin (the
// teacher's single-worker scheduler has no such requirement).
package crawl

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/fetch"
	"github.com/amalresearch/evalpipeline/internal/htmlcache"
	"github.com/amalresearch/evalpipeline/internal/obslog"
	"github.com/amalresearch/evalpipeline/internal/ratelimit"
	"github.com/amalresearch/evalpipeline/internal/robots"
	"github.com/amalresearch/evalpipeline/internal/sitemap"
	"github.com/amalresearch/evalpipeline/internal/urlscore"
)

// Budget constants from spec.md §4.6.
const (
	MaxPages        = 50
	MaxInFlight     = 10
	TotalTimeout    = 90 * time.Second
	defaultMinDelay = time.Second
)

// RobotChecker is the admission chokepoint every candidate URL passes
// through before it is scored or fetched, matching the teacher's
// robots.Robot interface shape.
type RobotChecker interface {
	Decide(ctx context.Context, target url.URL) (robots.Decision, *robots.RobotsError)
}

// Fetcher performs a single conditional fetch. Satisfied by *fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, force bool, crawlDepth int) (fetch.Result, *fetch.FetchError)
}

// Extractor runs content extraction over one fetched page and reports
// the outcome the crawler must fold back into the cache and
// CrawlState, per spec.md §4.6's "on every successfully fetched page"
// clause. The field-level ExtractionResult values it produces belong
// to internal/extract and are not this package's concern.
type Extractor interface {
	Extract(pageURL, html string) ExtractionOutcome
}

// ExtractionOutcome is the subset of an extraction run the crawler
// persists: whether the page had usable data, which methods were
// tried, whether JS rendering was needed, and why extraction failed
// if it did.
type ExtractionOutcome struct {
	HadData       bool
	MethodsTried  []string
	JSNeeded      bool
	FailureReason string
}

// PageResult is the crawler's per-URL outcome record.
type PageResult struct {
	URL       string
	Depth     int
	Score     int
	FromCache bool
	Fetched   bool
	HadData   bool
	Error     string
}

// Result is the full outcome of one Crawler.Run call.
type Result struct {
	Origin   string
	Mode     string // "sitemap" | "bfs"
	Pages    []PageResult
	TimedOut bool
}

// Crawler coordinates sitemap discovery, URL scoring, robots admission,
// rate-limited fetching, and extraction for one origin at a time.
type Crawler struct {
	fetcher   Fetcher
	cache     *htmlcache.Cache
	robot     RobotChecker
	sitemap   *sitemap.Discoverer
	limiter   *ratelimit.Limiter
	extractor Extractor
	recorder  *obslog.Recorder
}

// New constructs a Crawler. extractor and recorder may be nil.
func New(fetcher Fetcher, cache *htmlcache.Cache, robot RobotChecker, sitemapDiscoverer *sitemap.Discoverer, limiter *ratelimit.Limiter, extractor Extractor, recorder *obslog.Recorder) *Crawler {
	return &Crawler{
		fetcher:   fetcher,
		cache:     cache,
		robot:     robot,
		sitemap:   sitemapDiscoverer,
		limiter:   limiter,
		extractor: extractor,
		recorder:  recorder,
	}
}

// Run crawls origin, honoring both ctx's deadline and the internal 90s
// budget (whichever elapses first cancels in-flight fetches and stops
// scheduling new ones). state is mutated in place with the outcome of
// every fetch attempted, even on timeout.
func (c *Crawler) Run(ctx context.Context, origin string, state *domain.CrawlState) (Result, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return Result{}, err
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, TotalTimeout)
	defer cancel()

	sitemapURLs := c.sitemap.Discover(deadlineCtx, origin)
	if len(sitemapURLs) > 0 {
		candidates := c.scoreAndAdmit(deadlineCtx, sitemapURLs, base.Host, 0)
		selected := urlscore.SelectTopN(candidates, MaxPages)
		return c.fetchAll(deadlineCtx, base.Host, "sitemap", toTargets(selected), state)
	}

	return c.bfsCrawl(deadlineCtx, base, state)
}

type target struct {
	URL   string
	Depth int
	Score int
}

func toTargets(candidates []urlscore.Candidate) []target {
	out := make([]target, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, target{URL: c.URL, Depth: c.Depth, Score: c.Score})
	}
	return out
}

// scoreAndAdmit consults robots for every candidate URL, dropping
// disallowed ones, then scores the survivors (§4.5 is evaluated
// pre-fetch, against the URL alone — anchor text, title, and h1 are
// not yet known).
func (c *Crawler) scoreAndAdmit(ctx context.Context, rawURLs []string, host string, depth int) []urlscore.Candidate {
	candidates := make([]urlscore.Candidate, 0, len(rawURLs))
	for _, raw := range rawURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		if !c.admitted(ctx, *u) {
			continue
		}
		score, dim := urlscore.Score(raw, "", "", "")
		pageType := urlscore.ClassifyPage(raw)
		candidates = append(candidates, urlscore.Candidate{
			URL:      raw,
			Score:    score,
			Depth:    depth,
			Primary:  dim,
			IsDonate: pageType == urlscore.PageDonate,
			IsHome:   pageType == urlscore.PageHomepage,
		})
	}
	return candidates
}

// admitted reports whether target may be fetched: robots.txt allows
// it, and any infrastructure error fetching robots.txt itself is
// treated as a drop rather than a crawl-aborting failure (spec.md
// §4.6 never blocks the whole crawl on one host's rate limiting).
func (c *Crawler) admitted(ctx context.Context, target url.URL) bool {
	if c.robot == nil {
		return true
	}
	decision, robotsErr := c.robot.Decide(ctx, target)
	if robotsErr != nil {
		return false
	}
	return decision.Allowed
}

// crawlDelayFor returns the robots-declared crawl delay for host, or
// the default minimum interval when none is declared.
func (c *Crawler) crawlDelayFor(ctx context.Context, target url.URL) time.Duration {
	if c.robot == nil {
		return defaultMinDelay
	}
	decision, robotsErr := c.robot.Decide(ctx, target)
	if robotsErr != nil || decision.CrawlDelay == nil {
		return defaultMinDelay
	}
	return *decision.CrawlDelay
}

// fetchAll runs targets through the bounded worker pool, recording
// every outcome into state and the result's page list. It returns as
// soon as ctx is done, marking Result.TimedOut and keeping whatever
// pages already completed.
func (c *Crawler) fetchAll(ctx context.Context, host, mode string, targets []target, state *domain.CrawlState) (Result, error) {
	var mu sync.Mutex
	var pages []PageResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxInFlight)

	for _, t := range targets {
		t := t
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			u, err := url.Parse(t.URL)
			if err != nil {
				return nil
			}
			delay := c.crawlDelayFor(gctx, *u)
			if _, err := c.limiter.Wait(gctx, host, delay); err != nil {
				return nil
			}
			if gctx.Err() != nil {
				return nil
			}

			pr := c.fetchOne(gctx, t.URL, t.Depth, state)
			pr.Score = t.Score

			mu.Lock()
			pages = append(pages, pr)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return Result{
		Origin:   host,
		Mode:     mode,
		Pages:    pages,
		TimedOut: ctx.Err() != nil,
	}, nil
}

// fetchOne fetches one URL, runs extraction over it on success, and
// folds the outcome into state and the cache.
func (c *Crawler) fetchOne(ctx context.Context, rawURL string, depth int, state *domain.CrawlState) PageResult {
	result, err := c.fetcher.Fetch(ctx, rawURL, false, depth)
	if err != nil {
		return PageResult{URL: rawURL, Depth: depth, Fetched: false, Error: err.Error()}
	}

	pr := PageResult{URL: rawURL, Depth: depth, Fetched: true, FromCache: result.FromCache, HadData: true}

	if c.extractor == nil {
		state.RecordFetchOutcome(rawURL, true, result.JSRendered)
		return pr
	}

	outcome := c.extractor.Extract(rawURL, result.HTML)
	pr.HadData = outcome.HadData
	state.RecordFetchOutcome(rawURL, outcome.HadData, outcome.JSNeeded)
	if c.cache != nil {
		_ = c.cache.UpdateHadData(rawURL, outcome.HadData, outcome.MethodsTried, outcome.JSNeeded, outcome.FailureReason)
	}
	return pr
}
