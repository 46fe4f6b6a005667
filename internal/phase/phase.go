// Package phase is the sole control-plane authority for a charity's
// seven-phase evaluation DAG, per spec.md §4.12: Crawl → Extract,
// Crawl → Discover, {Extract, Discover} → Synthesize → Baseline →
// Rich → Judge → Export. For every phase it decides skip-vs-run from
// a fingerprint/TTL/cascade rule, runs an inline quality judge on the
// materialized output, and checkpoints the backing store.
//
// Grounded on the teacher's internal/scheduler.Scheduler, "the sole
// control-plane authority of the crawl" — generalized here from one
// fetch/extract loop over pages to one DAG of phases over a charity,
// the same way internal/crawl.Crawler already generalizes it to a
// bounded worker pool for in-flight fetches. The worker-pool-of-
// charities shape reuses that package's golang.org/x/sync/errgroup
// pattern rather than inventing a second one.
package phase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/obslog"
	"github.com/amalresearch/evalpipeline/internal/store"
)

// Names of the seven phases, per spec.md §4.12.
const (
	Crawl      = "crawl"
	Extract    = "extract"
	Discover   = "discover"
	Synthesize = "synthesize"
	Baseline   = "baseline"
	Rich       = "rich"
	Judge      = "judge"
	Export     = "export"
)

// DefaultTTL is spec.md §4.12's per-phase TTL table. Extract and
// Synthesize are absent: they are only invalidated by a fingerprint
// change (TTL()'s zero value means "no TTL expiry").
var DefaultTTL = map[string]time.Duration{
	Crawl:    30 * 24 * time.Hour,
	Discover: 30 * 24 * time.Hour,
	Baseline: 90 * 24 * time.Hour,
	Rich:     90 * 24 * time.Hour,
	Judge:    90 * 24 * time.Hour,
	Export:   90 * 24 * time.Hour,
}

// DefaultUpstream is the DAG edge table from spec.md §4.12.
var DefaultUpstream = map[string][]string{
	Crawl:      nil,
	Extract:    {Crawl},
	Discover:   {Crawl},
	Synthesize: {Extract, Discover},
	Baseline:   {Synthesize},
	Rich:       {Baseline},
	Judge:      {Rich},
	Export:     {Judge},
}

// Order is the DAG in a valid topological execution order.
var Order = []string{Crawl, Extract, Discover, Synthesize, Baseline, Rich, Judge, Export}

// RunFunc executes one phase for one charity, materializing its
// output to storage itself. cost is the LLM spend incurred, zero for
// phases with none.
type RunFunc func(ctx context.Context, charityID string) (cost float64, err error)

// JudgeFunc runs the phase's inline quality judge over its just-
// materialized output.
type JudgeFunc func(ctx context.Context, charityID string) []domain.JudgeIssue

// Phase is one DAG node: a name, its upstream dependencies, its TTL,
// a fingerprint of the code/prompt/config driving it, and the
// run/judge functions that do the actual work.
type Phase struct {
	Name        string
	Upstream    []string
	TTL         time.Duration
	Fingerprint string
	Run         RunFunc
	Judge       JudgeFunc
}

// Action is the runner's skip/run decision for one phase.
type Action int

const (
	ActionRun Action = iota
	ActionSkipCached
)

// Decide implements spec.md §4.12's four-step rule. forceAll and
// forcePhases come from the CLI's --force-all/--force-phase flags;
// ranThisSession records which phases already executed for this
// charity earlier in the same Run call (for cascade invalidation).
func Decide(now time.Time, ph Phase, cached domain.PhaseCacheEntry, hasCached bool, forceAll bool, forcePhases map[string]bool, ranThisSession map[string]bool) Action {
	if forceAll || forcePhases[ph.Name] {
		return ActionRun
	}
	for _, up := range ph.Upstream {
		if ranThisSession[up] {
			return ActionRun
		}
	}
	if hasCached && cached.Fingerprint == ph.Fingerprint {
		if ph.TTL == 0 || now.Sub(cached.RanAt) < ph.TTL {
			return ActionSkipCached
		}
	}
	return ActionRun
}

// CharityResult is the per-charity outcome of running the whole DAG.
type CharityResult struct {
	CharityID  string
	CacheHits  []string // phase names served from cache
	Ran        []string // phase names actually executed
	TotalCost  float64
	Issues     []domain.JudgeIssue
	FailedAt   string // phase name that aborted the pipeline, empty on success
	Err        error
}

// Success reports whether every phase reached completion without an
// aborting error.
func (r CharityResult) Success() bool {
	return r.FailedAt == ""
}

// Runner drives the DAG for many charities through a bounded worker
// pool, per spec.md §5's "bounded pool of N workers, each executes
// the 7 phases sequentially for its charity."
type Runner struct {
	phases      []Phase
	store       store.Store
	clock       func() time.Time
	workers     int
	checkpointN int
	forceAll    bool
	forcePhases map[string]bool
	recorder    *obslog.Recorder
}

// Option configures a Runner.
type Option func(*Runner)

// WithForceAll forces every phase to run regardless of cache state.
func WithForceAll() Option { return func(r *Runner) { r.forceAll = true } }

// WithForcePhases forces the named phases (and, by cascade, everything downstream) to run.
func WithForcePhases(names ...string) Option {
	return func(r *Runner) {
		for _, n := range names {
			r.forcePhases[n] = true
		}
	}
}

// WithCheckpointEvery sets how many completed charities elapse between
// durable store commits. 0 (the default) commits only once at the end.
func WithCheckpointEvery(n int) Option { return func(r *Runner) { r.checkpointN = n } }

// WithRecorder attaches an observability sink for per-charity progress logging.
func WithRecorder(rec *obslog.Recorder) Option { return func(r *Runner) { r.recorder = rec } }

// New builds a Runner over phases (normally Order's seven phases,
// with each Phase's Fingerprint/Run/Judge filled in by the caller) and
// a bounded pool of workers.
func New(phases []Phase, backingStore store.Store, clock func() time.Time, workers int, opts ...Option) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		phases:      phases,
		store:       backingStore,
		clock:       clock,
		workers:     workers,
		forcePhases: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the DAG for every charityID in charityIDs, bounding
// concurrency to r.workers, and checkpoints the store per
// r.checkpointN. It returns one CharityResult per input, in
// completion order (spec.md §5: "across charities, no ordering is
// required; result collation is by arrival").
func (r *Runner) Run(ctx context.Context, charityIDs []string) ([]CharityResult, error) {
	results := make(chan CharityResult, len(charityIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)

	total := len(charityIDs)
	for i, id := range charityIDs {
		i, id := i, id
		group.Go(func() error {
			res := r.RunCharity(groupCtx, id)
			if r.recorder != nil {
				r.recorder.RecordProgress(i+1, total, id, res.Success(), 0, res.TotalCost, res.CacheHits, errString(res.Err))
			}
			results <- res
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	close(results)

	all := make([]CharityResult, 0, len(charityIDs))
	completed := 0
	for res := range results {
		all = append(all, res)
		completed++
		if r.checkpointN > 0 && completed%r.checkpointN == 0 {
			r.checkpoint(ctx, completed, len(charityIDs))
		}
	}
	if r.checkpointN == 0 || completed%r.checkpointN != 0 {
		r.checkpoint(ctx, completed, len(charityIDs))
	}

	return all, nil
}

func (r *Runner) checkpoint(ctx context.Context, completed, total int) {
	message := commitMessage(completed, total)
	hash, err := r.store.Commit(ctx, message)
	if err != nil {
		if r.recorder != nil {
			r.recorder.RecordError(r.clock(), "phase.Runner", "checkpoint", obslog.CauseStorageFailure, err.Error(), nil)
		}
		return
	}
	_ = r.store.Tag(ctx, message, message, hash)
}

func commitMessage(completed, total int) string {
	return "checkpoint " + itoa(completed) + "/" + itoa(total)
}

// RunCharity drives the DAG for a single charity to completion or to
// the first aborting phase.
func (r *Runner) RunCharity(ctx context.Context, charityID string) CharityResult {
	result := CharityResult{CharityID: charityID}
	ranThisSession := make(map[string]bool)
	now := r.clock()

	for _, ph := range r.phases {
		var cached domain.PhaseCacheEntry
		hasCached, _ := r.store.Get(ctx, store.TablePhaseCache, store.RowKey(charityID, ph.Name), &cached)

		action := Decide(now, ph, cached, hasCached, r.forceAll, r.forcePhases, ranThisSession)
		if action == ActionSkipCached {
			result.CacheHits = append(result.CacheHits, ph.Name)
			if r.recorder != nil {
				r.recorder.RecordPhase(charityID, ph.Name, "cached", 0, true)
			}
			continue
		}

		cost, err := ph.Run(ctx, charityID)
		if err != nil {
			_ = r.store.Delete(ctx, store.TablePhaseCache, store.RowKey(charityID, ph.Name))
			if r.recorder != nil {
				r.recorder.RecordError(now, "phase.Runner", ph.Name, obslog.CauseUnknown, err.Error(), map[string]string{"charity_id": charityID})
			}
			result.FailedAt = ph.Name
			result.Err = err
			return result
		}

		issues := ph.Judge(ctx, charityID)
		if domain.HasError(issues) {
			_ = r.store.Delete(ctx, store.TablePhaseCache, store.RowKey(charityID, ph.Name))
			if r.recorder != nil {
				r.recorder.RecordError(now, "phase.Runner", ph.Name, obslog.CauseQualityJudgeError, "judge returned ERROR", map[string]string{"charity_id": charityID})
			}
			result.Issues = append(result.Issues, issues...)
			result.FailedAt = ph.Name
			return result
		}
		result.Issues = append(result.Issues, issues...)
		if r.recorder != nil {
			r.recorder.RecordPhase(charityID, ph.Name, "ran", cost, false)
		}

		entry := domain.PhaseCacheEntry{
			CharityID:   charityID,
			Phase:       ph.Name,
			Fingerprint: ph.Fingerprint,
			RanAt:       now,
			CostUSD:     cost,
		}
		if err := r.store.Upsert(ctx, store.TablePhaseCache, store.RowKey(charityID, ph.Name), entry); err != nil {
			result.FailedAt = ph.Name
			result.Err = err
			return result
		}

		result.Ran = append(result.Ran, ph.Name)
		result.TotalCost += cost
		ranThisSession[ph.Name] = true
	}

	return result
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
