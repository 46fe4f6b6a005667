// Package obslog is the structured logging and observability sink
// every pipeline component records through, built on zerolog.
//
// Grounded on the teacher's internal/metadata package: the same
// closed ErrorCause enum used exclusively for observability, the same
// "never derive control flow from a Cause" invariant, retargeted from
// crawl-only events (fetch, artifact) to the pipeline's event surface
// (fetch, collector error, phase transition, cost).
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Cause is a closed, canonical classification used exclusively for
// observability (logging, metrics, reporting).
//
// Cause MUST NOT influence retry, continuation or abort decisions —
// those are carried by failure.ClassifiedError.Severity(). Any code
// path that branches on a Cause value is a design violation.
type Cause string

const (
	CauseUnknown            Cause = "unknown"
	CauseNetworkFailure     Cause = "network_failure"
	CausePolicyDisallow     Cause = "policy_disallow"
	CauseContentInvalid     Cause = "content_invalid"
	CauseStorageFailure     Cause = "storage_failure"
	CauseValidationFailure  Cause = "validation_failure"
	CauseLLMFailure         Cause = "llm_failure"
	CauseQualityJudgeError  Cause = "quality_judge_error"
	CauseInvariantViolation Cause = "invariant_violation"
)

// Recorder is the long-lived observability service, passed into every
// component via constructor per spec.md §9 ("avoid module-level
// singletons in the port").
type Recorder struct {
	log zerolog.Logger
}

// New builds a Recorder writing structured JSON to w. Pass os.Stdout
// in production; tests typically pass a bytes.Buffer.
func New(w io.Writer, verbose bool) *Recorder {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Recorder{log: logger}
}

// Default builds a Recorder writing human-readable output to stderr,
// for CLI use.
func Default(verbose bool) *Recorder {
	return New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}, verbose)
}

// RecordFetch logs one completed HTTP fetch attempt.
func (r *Recorder) RecordFetch(url string, statusCode int, duration time.Duration, contentType string, retryCount, crawlDepth int) {
	r.log.Debug().
		Str("url", url).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("content_type", contentType).
		Int("retry_count", retryCount).
		Int("crawl_depth", crawlDepth).
		Msg("fetch")
}

// RecordError logs a classified failure. cause is observational only.
func (r *Recorder) RecordError(at time.Time, component, action string, cause Cause, message string, fields map[string]string) {
	ev := r.log.Error().
		Time("at", at).
		Str("component", component).
		Str("action", action).
		Str("cause", string(cause))
	for k, v := range fields {
		ev = ev.Str(k, v)
	}
	ev.Msg(message)
}

// RecordPhase logs a phase transition for a charity.
func (r *Recorder) RecordPhase(charityID, phase, outcome string, costUSD float64, cached bool) {
	r.log.Info().
		Str("charity_id", charityID).
		Str("phase", phase).
		Str("outcome", outcome).
		Float64("cost_usd", costUSD).
		Bool("cached", cached).
		Msg("phase")
}

// RecordProgress logs the one-line-per-charity progress format from
// spec.md §7.
func (r *Recorder) RecordProgress(index, total int, name string, ok bool, score float64, costUSD float64, cachedPhases []string, errMsg string) {
	ev := r.log.Info().
		Int("index", index).
		Int("total", total).
		Str("name", name).
		Bool("ok", ok)
	if ok {
		ev = ev.Float64("score", score).Float64("cost_usd", costUSD).Strs("cache", cachedPhases)
	} else {
		ev = ev.Str("error", errMsg)
	}
	ev.Msg("progress")
}
