// Package collector defines the per-source fetch/parse contract from
// spec.md §4.8 and §9's design note, and the registry every concrete
// source (irs990, ratingorg, profile, accreditation, grantsxml,
// website) plugs into.
//
// Grounded on
// original_source/data-pipeline/src/collectors/base.py's
// BaseCollector: two abstract methods (fetch, parse) plus a concrete
// default collect() that composes them for backwards compatibility.
// The Python ABC becomes a Go interface; its collect() default body
// becomes the package-level Collect helper so concrete sources don't
// each reimplement the same three lines.
package collector

import (
	"context"
	"fmt"
	"net/http"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/llmclient"
	"github.com/amalresearch/evalpipeline/internal/ratelimit"
)

// FetchResult is the outcome of a Source's Fetch call: raw bytes ready
// for storage in RawRecord.RawPayload, with no parsing performed.
type FetchResult struct {
	OK          bool
	RawData     []byte
	ContentType string
	Err         string
}

// ParseResult is the outcome of a Source's Parse call: a schema-keyed
// map ready for RawRecord.ParsedPayload. A non-retryable validation
// failure is signaled by an Err starting with domain's
// "VALIDATION_ERROR:" prefix (domain.ValidationError), matching the
// convention internal/orchestrate.IsRetryableError relies on.
type ParseResult struct {
	OK         bool
	ParsedData map[string]any
	Err        string
}

// Source is one per-(charity, source) collector, matching the
// dynamic/duck-typed collector design note in spec.md §9: an abstract
// base with two abstract methods and a concrete default collect.
type Source interface {
	// SourceName is the canonical source name, one of the
	// domain.Source* constants.
	SourceName() string
	// SchemaKey names the key under which Parse's output is wrapped
	// in ParsedPayload (e.g. "propublica_990").
	SchemaKey() string
	// Fetch performs the network I/O for charityID only; it must not
	// parse the response body beyond what's needed to classify errors.
	Fetch(ctx context.Context, charityID string, opts map[string]string) FetchResult
	// Parse turns a previously fetched payload into ParsedPayload.
	// It is pure: given the same raw bytes it always returns the same
	// result, so cached RawPayload can be re-parsed without a refetch.
	Parse(ctx context.Context, raw []byte, charityID string, opts map[string]string) ParseResult
}

// Collect is the default fetch-then-parse composition every Source
// gets for free, per spec.md §9 ("a concrete default collect"). It
// returns the combined schema-keyed map and a RawRecord describing
// what happened, so callers have both the merge-ready data and the
// cache row in one call.
func Collect(ctx context.Context, src Source, charityID string, opts map[string]string) (map[string]any, domain.RawRecord) {
	record := domain.RawRecord{
		CharityID: charityID,
		Source:    src.SourceName(),
	}

	fetched := src.Fetch(ctx, charityID, opts)
	if !fetched.OK {
		record.ErrorMessage = fetched.Err
		return nil, record
	}
	record.RawPayload = fetched.RawData

	parsed := src.Parse(ctx, fetched.RawData, charityID, opts)
	if !parsed.OK {
		record.ErrorMessage = parsed.Err
		return nil, record
	}

	record.Success = true
	record.ParsedPayload = parsed.ParsedData
	return parsed.ParsedData, record
}

// Factory constructs a Source. Concrete sources register one under
// their domain.Source* name so callers can build the full set from
// shared dependencies (HTTP client, rate limiter, LLM client, ...)
// without importing every subpackage by name.
type Factory func(deps Deps) Source

// Deps bundles the shared services a Factory may need. Not every
// Source uses every field; unused ones are left zero.
type Deps struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	LLM        llmclient.Client
	CacheDir   string
}

var registry = map[string]Factory{}

// Register adds a Factory under name to the package-level registry,
// per spec.md §9's "keep a registry map[name]factory for construction".
// Called from each subpackage's init().
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Build constructs every registered Source against deps. Unknown
// names (a typo in a caller's source list) are reported rather than
// silently skipped.
func Build(names []string, deps Deps) (map[string]Source, error) {
	out := make(map[string]Source, len(names))
	for _, name := range names {
		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("collector: no factory registered for source %q", name)
		}
		out[name] = factory(deps)
	}
	return out, nil
}
