package robots

import (
	"fmt"

	"github.com/amalresearch/evalpipeline/pkg/failure"
)

type RobotsErrorCause string

const (
	ErrCauseDisallowRoot         RobotsErrorCause = "root disallowed to be crawled"
	ErrCauseInvalidRobotsUrl     RobotsErrorCause = "invalid robots.txt URL"
	ErrCausePreFetchFailure      RobotsErrorCause = "failed before making fetch"
	ErrCauseHttpFetchFailure     RobotsErrorCause = "failed to fetch"
	ErrCauseHttpTooManyRequests  RobotsErrorCause = "too many requests"
	ErrCauseHttpTooManyRedirects RobotsErrorCause = "too many redirects"
	ErrCauseHttpServerError      RobotsErrorCause = "http server error"
	ErrCauseHttpUnexpectedStatus RobotsErrorCause = "unexpected http status"
	ErrCauseParseError           RobotsErrorCause = "failed to parse robots.txt"
)

type RobotsError struct {
	Message   string
	Retryable bool
	Cause     RobotsErrorCause
}

func (e *RobotsError) Error() string {
	return fmt.Sprintf("robots error: %s", e.Cause)
}

func (e *RobotsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
