// Package cli is streaming-runner's cobra command: it parses the
// flag set spec.md §6 specifies, builds the charity list, wires an
// internal/pipeline.Pipeline and internal/phase.Runner over it, and
// renders the per-charity progress lines and final cost-breakdown
// summary spec.md §7 describes.
//
// Grounded on the teacher's internal/cli.rootCmd: a subcommand-free
// root command, a package-level flag variable block, PersistentFlags
// registered in init, and an InitConfigWithError split out from the
// Run closure so the flag-to-domain-object translation is testable
// without invoking cobra.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/amalresearch/evalpipeline/internal/config"
	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/llmclient"
	"github.com/amalresearch/evalpipeline/internal/phase"
	"github.com/amalresearch/evalpipeline/internal/pipeline"
	"github.com/amalresearch/evalpipeline/internal/store"
	"github.com/amalresearch/evalpipeline/internal/store/filestore"
)

// Exit codes per spec.md §6.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
)

// exitError carries an exit code through cobra's error-only RunE
// signature; Execute unwraps it back into a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error { return &exitError{code: code, err: err} }

var (
	charitiesFile  string
	einFlag        string
	workers        int
	model          string
	verbose        bool
	clean          bool
	judgeThreshold float64
	skipExport     bool
	forceAll       bool
	forcePhases    []string
	dryRun         bool
	cacheStatus    bool
	checkpointN    int
	tagName        string
	noTag          bool
)

var rootCmd = &cobra.Command{
	Use:   "streaming-runner",
	Short: "Runs the charity evaluation ingestion pipeline end to end.",
	Long: `streaming-runner drives the seven-phase charity evaluation DAG
(crawl, extract, discover, synthesize, baseline, rich, judge, export)
for a list of charities, caching each phase's output by fingerprint
and TTL so repeat runs only redo what changed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Flags().StringVar(&charitiesFile, "charities", "", "path to a Name|EIN|website charities file")
	rootCmd.Flags().StringVar(&einFlag, "ein", "", "process a single charity by EIN")
	rootCmd.Flags().IntVar(&workers, "workers", 4, "bounded worker pool size")
	rootCmd.Flags().StringVar(&model, "model", "claude-3-5-haiku-latest", "LLM model name for the rich narrative and LLM extraction layers")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "debug-level logging")
	rootCmd.Flags().BoolVar(&clean, "clean", false, "wipe the export and cache roots before running")
	rootCmd.Flags().Float64Var(&judgeThreshold, "judge-threshold", 0, "minimum judge_score required to export a charity")
	rootCmd.Flags().BoolVar(&skipExport, "skip-export", false, "run every phase except export")
	rootCmd.Flags().BoolVar(&forceAll, "force-all", false, "ignore every phase's cache and rerun everything")
	rootCmd.Flags().StringArrayVar(&forcePhases, "force-phase", nil, "force this phase (and its cascade) to rerun; repeatable")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate input, then exit without running the pipeline")
	rootCmd.Flags().BoolVar(&cacheStatus, "cache-status", false, "print each charity's cached phases and exit")
	rootCmd.Flags().IntVar(&checkpointN, "checkpoint", 0, "commit the store every N completed charities (0: once at the end)")
	rootCmd.Flags().StringVar(&tagName, "tag", "", "tag name for the final checkpoint commit (default: a generated run id)")
	rootCmd.Flags().BoolVar(&noTag, "no-tag", false, "skip tagging the final checkpoint commit")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return ExitFailure
}

func runRoot(cmd *cobra.Command, args []string) error {
	if (charitiesFile == "") == (einFlag == "") {
		return fail(ExitInvalidInput, fmt.Errorf("exactly one of --charities or --ein is required"))
	}
	if noTag && tagName != "" {
		return fail(ExitInvalidInput, fmt.Errorf("--tag and --no-tag are mutually exclusive"))
	}

	cfg, err := config.Load()
	if err != nil {
		return fail(ExitInvalidInput, err)
	}
	if err := cfg.Validate(model); err != nil {
		return fail(ExitFailure, err)
	}

	charities, err := loadCharities()
	if err != nil {
		return fail(ExitInvalidInput, err)
	}

	if dryRun {
		fmt.Printf("dry run: %d charit%s would be processed\n", len(charities), pluralSuffix(len(charities)))
		for _, c := range charities {
			fmt.Printf("  %s (%s) %s\n", c.Name, c.EIN, c.Website)
		}
		return nil
	}

	if clean {
		if err := cleanRoots(cfg); err != nil {
			return fail(ExitFailure, err)
		}
	}

	backingStore, err := filestore.New(cfg.StorageRoot)
	if err != nil {
		return fail(ExitFailure, fmt.Errorf("open store: %w", err))
	}

	ctx := context.Background()
	charityIDs := make([]string, 0, len(charities))
	for _, c := range charities {
		if err := backingStore.Upsert(ctx, store.TableCharities, c.EIN, c); err != nil {
			return fail(ExitFailure, fmt.Errorf("seed charity %s: %w", c.EIN, err))
		}
		charityIDs = append(charityIDs, c.EIN)
	}

	if cacheStatus {
		printCacheStatus(ctx, backingStore, charityIDs)
		return nil
	}

	llmClient := buildLLMClient(cfg)
	pl, err := pipeline.New(backingStore, cfg.ExportRoot, llmClient, pipeline.Config{
		Workers:        workers,
		JudgeThreshold: judgeThreshold,
		Model:          model,
		Verbose:        verbose,
		CacheDir:       cfg.CacheRoot,
	})
	if err != nil {
		return fail(ExitFailure, fmt.Errorf("build pipeline: %w", err))
	}

	phases := pl.Phases(model)
	if skipExport {
		phases = withoutExport(phases)
	}

	opts := []phase.Option{phase.WithRecorder(pipeline.Recorder(verbose))}
	if forceAll {
		opts = append(opts, phase.WithForceAll())
	}
	if len(forcePhases) > 0 {
		opts = append(opts, phase.WithForcePhases(forcePhases...))
	}
	if checkpointN > 0 {
		opts = append(opts, phase.WithCheckpointEvery(checkpointN))
	}

	runner := phase.New(phases, backingStore, time.Now, workers, opts...)
	results, err := runner.Run(ctx, charityIDs)
	if err != nil {
		return fail(ExitFailure, fmt.Errorf("run: %w", err))
	}

	anyFailed := printSummary(ctx, backingStore, results)

	if !noTag {
		name := tagName
		if name == "" {
			name = "run-" + uuid.New().String()
		}
		if hash, err := backingStore.Commit(ctx, name); err == nil {
			_ = backingStore.Tag(ctx, name, name, hash)
		}
	}

	if anyFailed {
		return fail(ExitFailure, fmt.Errorf("%d charit%s failed", countFailed(results), pluralSuffix(countFailed(results))))
	}
	return nil
}

func loadCharities() ([]domain.Charity, error) {
	if einFlag != "" {
		ein, err := domain.NormalizeEIN(einFlag)
		if err != nil {
			return nil, err
		}
		return []domain.Charity{{EIN: ein, CreatedAt: time.Now()}}, nil
	}

	f, err := os.Open(charitiesFile)
	if err != nil {
		return nil, fmt.Errorf("open charities file: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var out []domain.Charity
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("charities file line %d: expected Name|EIN|website, got %q", lineNo, line)
		}
		ein, err := domain.NormalizeEIN(parts[1])
		if err != nil {
			return nil, fmt.Errorf("charities file line %d: %w", lineNo, err)
		}
		if seen[ein] {
			continue
		}
		seen[ein] = true
		out = append(out, domain.Charity{
			Name:      strings.TrimSpace(parts[0]),
			EIN:       ein,
			Website:   domain.NormalizeWebsite(parts[2]),
			CreatedAt: time.Now(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read charities file: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("charities file %s has no valid rows", charitiesFile)
	}
	return out, nil
}

func buildLLMClient(cfg config.Config) llmclient.Client {
	base := llmclient.DefaultConfig()
	base.Model = model
	if config.IsAnthropicModel(model) {
		base.APIKey = cfg.AnthropicAPIKey
		return llmclient.NewAnthropicClient(base)
	}
	base.APIKey = cfg.OpenAIAPIKey
	return llmclient.NewOpenAIClient(base)
}

func withoutExport(phases []phase.Phase) []phase.Phase {
	out := make([]phase.Phase, 0, len(phases))
	for _, p := range phases {
		if p.Name != phase.Export {
			out = append(out, p)
		}
	}
	return out
}

func cleanRoots(cfg config.Config) error {
	for _, dir := range []string{cfg.ExportRoot, cfg.CacheRoot} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}

func printCacheStatus(ctx context.Context, backingStore store.Store, charityIDs []string) {
	for _, id := range charityIDs {
		fmt.Printf("%s:\n", id)
		for _, name := range phase.Order {
			var entry domain.PhaseCacheEntry
			ok, _ := backingStore.Get(ctx, store.TablePhaseCache, store.RowKey(id, name), &entry)
			if !ok {
				fmt.Printf("  %-10s not cached\n", name)
				continue
			}
			fmt.Printf("  %-10s ran %s, fingerprint %s, cost $%.4f\n", name, entry.RanAt.Format(time.RFC3339), entry.Fingerprint, entry.CostUSD)
		}
	}
}

// printSummary renders the one-line-per-charity progress output and
// the final phase cost-breakdown block, per spec.md §7. It returns
// true if any charity failed.
func printSummary(ctx context.Context, backingStore store.Store, results []phase.CharityResult) bool {
	anyFailed := false
	phaseCost := make(map[string]float64)
	total := len(results)

	for i, res := range results {
		if !res.Success() {
			anyFailed = true
			fmt.Printf("[%d/%d] \u2717 %s - Error: %s\n", i+1, total, res.CharityID, errMessage(res.Err))
			continue
		}
		var eval domain.Evaluation
		backingStore.Get(ctx, store.TableEvaluations, res.CharityID, &eval)
		fmt.Printf("[%d/%d] \u2713 %s - A:%.1f ($%.4f) [cache:%s]\n", i+1, total, res.CharityID, eval.AmalScore, res.TotalCost, strings.Join(res.CacheHits, ","))
		for _, ph := range res.Ran {
			var entry domain.PhaseCacheEntry
			if ok, _ := backingStore.Get(ctx, store.TablePhaseCache, store.RowKey(res.CharityID, ph), &entry); ok {
				phaseCost[ph] += entry.CostUSD
			}
		}
	}

	fmt.Println("\nphase cost breakdown:")
	for _, name := range phase.Order {
		if cost, ok := phaseCost[name]; ok {
			fmt.Printf("  %-10s $%.4f\n", name, cost)
		}
	}
	return anyFailed
}

func countFailed(results []phase.CharityResult) int {
	n := 0
	for _, r := range results {
		if !r.Success() {
			n++
		}
	}
	return n
}

func errMessage(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

func pluralSuffix(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
