package crawl

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/amalresearch/evalpipeline/internal/domain"
)

// bfsCrawl is the fallback mode from spec.md §4.6 when no sitemap can
// be discovered: breadth-first from origin, one level at a time, each
// level's fetches bounded by the same worker pool and rate limiter as
// sitemap mode, until the page budget or the deadline is reached.
func (c *Crawler) bfsCrawl(ctx context.Context, base *url.URL, state *domain.CrawlState) (Result, error) {
	visited := map[string]struct{}{base.String(): {}}
	frontier := []target{{URL: base.String(), Depth: 0}}

	var allPages []PageResult
	pageCount := 0

	for len(frontier) > 0 && pageCount < MaxPages {
		if ctx.Err() != nil {
			break
		}

		if remaining := MaxPages - pageCount; len(frontier) > remaining {
			frontier = frontier[:remaining]
		}

		levelResult, nextFrontier := c.bfsLevel(ctx, base.Host, frontier, visited, state)
		allPages = append(allPages, levelResult...)
		pageCount += len(levelResult)
		frontier = nextFrontier
	}

	return Result{
		Origin:   base.Host,
		Mode:     "bfs",
		Pages:    allPages,
		TimedOut: ctx.Err() != nil,
	}, nil
}

// bfsLevel fetches every target in the current level concurrently and
// returns both its page results and the deduplicated, admitted links
// discovered on those pages for the next level.
func (c *Crawler) bfsLevel(ctx context.Context, host string, level []target, visited map[string]struct{}, state *domain.CrawlState) ([]PageResult, []target) {
	var mu sync.Mutex
	var pages []PageResult
	var nextLevel []target

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxInFlight)

	for _, t := range level {
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
			if !c.admitted(gctx, *u) {
				return nil
			}

			result, ferr := c.fetcher.Fetch(gctx, t.URL, false, t.Depth)

			mu.Lock()
			defer mu.Unlock()

			if ferr != nil {
				pages = append(pages, PageResult{URL: t.URL, Depth: t.Depth, Error: ferr.Error()})
				return nil
			}

			pr := PageResult{URL: t.URL, Depth: t.Depth, Fetched: true, FromCache: result.FromCache, HadData: true}
			if c.extractor != nil {
				outcome := c.extractor.Extract(t.URL, result.HTML)
				pr.HadData = outcome.HadData
				state.RecordFetchOutcome(t.URL, outcome.HadData, outcome.JSNeeded)
				if c.cache != nil {
					_ = c.cache.UpdateHadData(t.URL, outcome.HadData, outcome.MethodsTried, outcome.JSNeeded, outcome.FailureReason)
				}
			} else {
				state.RecordFetchOutcome(t.URL, true, result.JSRendered)
			}
			pages = append(pages, pr)

			for _, link := range discoverLinks(result.HTML, u) {
				if _, dup := visited[link]; dup {
					continue
				}
				visited[link] = struct{}{}
				nextLevel = append(nextLevel, target{URL: link, Depth: t.Depth + 1})
			}
			return nil
		})
	}

	_ = g.Wait()
	return pages, nextLevel
}
