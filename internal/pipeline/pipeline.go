// Package pipeline assembles the seven phase.Phase values the phase
// runner drives per spec.md §4.12: it is the wiring layer the rest of
// the module deliberately stays free of, binding internal/collector's
// registered sources, internal/merge, internal/orchestrate, and
// internal/phase's Judges/Exporter into one runnable DAG.
//
// Grounded on the teacher's cmd/docs-crawler/main.go, which does the
// analogous job of constructing one concrete Scheduler from its
// constituent Fetcher/Extractor/Sink/Robot pieces before calling
// Scheduler.ExecuteCrawling — generalized here from "wire one crawl"
// to "wire the seven-phase DAG per charity".
package pipeline

import (
	"fmt"
	"net/http"
	"time"

	"github.com/amalresearch/evalpipeline/internal/collector"
	// Each of these registers its Source factory with internal/collector
	// via an init() func; nothing else in the module imports them by
	// name, so this package — the only caller of collector.Build — is
	// where that registration must be forced. website needs no blank
	// import: crawl.go already imports it by name for ExtractionResults.
	_ "github.com/amalresearch/evalpipeline/internal/collector/accreditation"
	_ "github.com/amalresearch/evalpipeline/internal/collector/grantsxml"
	_ "github.com/amalresearch/evalpipeline/internal/collector/irs990"
	_ "github.com/amalresearch/evalpipeline/internal/collector/profile"
	_ "github.com/amalresearch/evalpipeline/internal/collector/ratingorg"
	"github.com/amalresearch/evalpipeline/internal/llmclient"
	"github.com/amalresearch/evalpipeline/internal/obslog"
	"github.com/amalresearch/evalpipeline/internal/phase"
	"github.com/amalresearch/evalpipeline/internal/ratelimit"
	"github.com/amalresearch/evalpipeline/internal/store"
)

// sourceOrder is the sequence Crawl attempts each source in. irs990
// runs first because grantsxml's filing object_ids are read back out
// of its just-stored RawRecord. The sources run one after another in
// this order, so a slow website crawl delays the lookups after it.
var sourceOrder = []string{
	"propublica", "website", "rating-org", "profile", "accreditation", "990-grants",
}

// Config bundles the knobs a caller (cmd/streaming-runner) supplies;
// every field has a usable zero value for tests.
type Config struct {
	Workers        int
	JudgeThreshold float64
	Model          string
	Verbose        bool
	CacheDir       string
}

// Pipeline owns every dependency the seven RunFunc/JudgeFunc closures
// need: the backing store, the built collector sources, a clock for
// deterministic fingerprints/TTLs, and the exporter.
type Pipeline struct {
	store    store.Store
	sources  map[string]collector.Source
	judges   *phase.Judges
	exporter *phase.Exporter
	clock    func() time.Time
	cfg      Config
	llm      llmclient.Client
}

// New builds a Pipeline: it constructs one Source per registered
// collector factory (internal/collector's package-level registry,
// populated by each subpackage's init()) against shared deps, and
// binds the judges/exporter spec.md §4.12 names.
func New(backingStore store.Store, exportRoot string, llmClient llmclient.Client, cfg Config) (*Pipeline, error) {
	deps := collector.Deps{
		HTTPClient: http.DefaultClient,
		Limiter:    ratelimit.New(),
		LLM:        llmClient,
		CacheDir:   cfg.CacheDir,
	}
	sources, err := collector.Build(sourceOrder, deps)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	exporter, err := phase.NewExporter(exportRoot)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		store:    backingStore,
		sources:  sources,
		judges:   phase.NewJudges(backingStore),
		exporter: exporter,
		clock:    time.Now,
		cfg:      cfg,
		llm:      llmClient,
	}, nil
}

// codeVersion seeds every phase's fingerprint; bump it when a phase's
// RunFunc/JudgeFunc semantics change in a way that should invalidate
// every existing PhaseCacheEntry.
const codeVersion = "v1"

// Phases builds the seven-phase DAG in spec.md §4.12's topological
// order, each wired to this Pipeline's dependencies. model feeds
// Baseline/Rich's fingerprint so switching models invalidates their
// cache without needing a manual --force-phase.
func (p *Pipeline) Phases(model string) []phase.Phase {
	return []phase.Phase{
		{
			Name:        phase.Crawl,
			Upstream:    phase.DefaultUpstream[phase.Crawl],
			TTL:         phase.DefaultTTL[phase.Crawl],
			Fingerprint: phase.Fingerprint(codeVersion, "crawl"),
			Run:         p.runCrawl,
			Judge:       p.judges.Crawl,
		},
		{
			Name:        phase.Extract,
			Upstream:    phase.DefaultUpstream[phase.Extract],
			TTL:         phase.DefaultTTL[phase.Extract],
			Fingerprint: phase.Fingerprint(codeVersion, "extract"),
			Run:         p.runExtract,
			Judge:       p.judges.Extract,
		},
		{
			Name:        phase.Discover,
			Upstream:    phase.DefaultUpstream[phase.Discover],
			TTL:         phase.DefaultTTL[phase.Discover],
			Fingerprint: phase.Fingerprint(codeVersion, "discover"),
			Run:         p.runDiscover,
			Judge:       p.judges.Discover,
		},
		{
			Name:        phase.Synthesize,
			Upstream:    phase.DefaultUpstream[phase.Synthesize],
			TTL:         phase.DefaultTTL[phase.Synthesize],
			Fingerprint: phase.Fingerprint(codeVersion, "synthesize"),
			Run:         p.runSynthesize,
			Judge:       p.judges.Synthesize,
		},
		{
			Name:        phase.Baseline,
			Upstream:    phase.DefaultUpstream[phase.Baseline],
			TTL:         phase.DefaultTTL[phase.Baseline],
			Fingerprint: phase.Fingerprint(codeVersion, "baseline", model),
			Run:         p.runBaseline,
			Judge:       p.judges.Baseline,
		},
		{
			Name:        phase.Rich,
			Upstream:    phase.DefaultUpstream[phase.Rich],
			TTL:         phase.DefaultTTL[phase.Rich],
			Fingerprint: phase.Fingerprint(codeVersion, "rich", model),
			Run:         p.runRich,
			Judge:       p.judges.Rich,
		},
		{
			Name:        phase.Judge,
			Upstream:    phase.DefaultUpstream[phase.Judge],
			TTL:         phase.DefaultTTL[phase.Judge],
			Fingerprint: phase.Fingerprint(codeVersion, "judge"),
			Run:         p.runJudge,
			Judge:       p.judges.Judge,
		},
		{
			Name:        phase.Export,
			Upstream:    phase.DefaultUpstream[phase.Export],
			TTL:         phase.DefaultTTL[phase.Export],
			Fingerprint: phase.Fingerprint(codeVersion, "export", fmt.Sprintf("%g", p.cfg.JudgeThreshold)),
			Run:         p.runExport,
			Judge:       p.judges.Export,
		},
	}
}

// Recorder builds the zerolog-backed observability sink Runner logs
// progress through, per SPEC_FULL.md §1.1.
func Recorder(verbose bool) *obslog.Recorder {
	return obslog.Default(verbose)
}
