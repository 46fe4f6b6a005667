package robots

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/amalresearch/evalpipeline/internal/robots/cache"
)

/*
Responsibilities

- Fetch robots.txt per host
- Cache parsed rule sets for the crawl session
- Enforce allow/disallow rules before enqueue

Robots checks occur before a URL enters the frontier.
*/

// CachedRobot evaluates fetch permission for URLs, keeping one parsed
// ruleSet per host in memory for the lifetime of a crawl run. The
// underlying RobotsFetcher may additionally be backed by a persistent
// cache.Cache for cross-run reuse of the raw robots.txt bytes.
type CachedRobot struct {
	fetcher   *RobotsFetcher
	userAgent string
	txtCache  cache.Cache

	mu       sync.RWMutex
	ruleSets map[string]ruleSet
}

// NewCachedRobot constructs a CachedRobot backed by a RobotsFetcher
// using the given optional cache.Cache for raw robots.txt storage.
// c may be nil, in which case robots.txt is refetched on every run.
func NewCachedRobot(c cache.Cache) *CachedRobot {
	return &CachedRobot{
		txtCache: c,
		ruleSets: make(map[string]ruleSet),
	}
}

// Init prepares the robot for use with the given user agent. It must
// be called once before Decide.
func (r *CachedRobot) Init(userAgent string) {
	r.userAgent = userAgent
	r.fetcher = NewRobotsFetcher(userAgent, r.txtCache)
}

// Decide reports whether target may be fetched under the host's
// robots.txt, fetching and parsing the rules on first access to a
// host and reusing the parsed ruleSet for subsequent URLs on the
// same host for the life of this CachedRobot.
func (r *CachedRobot) Decide(ctx context.Context, target url.URL) (Decision, *RobotsError) {
	host := target.Host

	rs, ok := r.lookup(host)
	if !ok {
		scheme := target.Scheme
		if scheme == "" {
			scheme = "https"
		}

		result, fetchErr := r.fetcher.Fetch(ctx, scheme, host)
		if fetchErr != nil {
			if fetchErr.Cause == ErrCauseHttpServerError ||
				fetchErr.Cause == ErrCauseHttpTooManyRequests ||
				fetchErr.Cause == ErrCauseHttpFetchFailure {
				return Decision{}, fetchErr
			}
			// No usable robots.txt (4xx, parse trouble): treat as
			// unrestricted per the de-facto robots.txt convention.
			rs = ruleSet{host: host, userAgent: r.userAgent, fetchedAt: time.Now()}
		} else {
			rs = MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)
		}

		r.store(host, rs)
	}

	allowed, reason := rs.Allows(target.Path)

	return Decision{
		Url:        target,
		Allowed:    allowed,
		Reason:     reason,
		CrawlDelay: rs.CrawlDelay(),
	}, nil
}

func (r *CachedRobot) lookup(host string) (ruleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.ruleSets[host]
	return rs, ok
}

func (r *CachedRobot) store(host string, rs ruleSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ruleSets[host] = rs
}
