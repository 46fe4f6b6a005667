package pdfdoc

import (
	"fmt"

	"github.com/amalresearch/evalpipeline/pkg/failure"
)

// ErrorCause classifies why a PDF download or validation failed.
type ErrorCause string

const (
	ErrCauseNetworkFailure ErrorCause = "network issues"
	ErrCauseRequest5xx     ErrorCause = "5xx"
	ErrCauseRequestTooMany ErrorCause = "too many requests"
	ErrCauseForbidden      ErrorCause = "forbidden"
	ErrCauseEmptyFile      ErrorCause = "empty file"
	ErrCauseNotPDF         ErrorCause = "missing %PDF magic bytes"
	ErrCauseHTMLErrorPage  ErrorCause = "server returned an HTML error page"
	ErrCauseTooLarge       ErrorCause = "exceeds max PDF size"
)

// PDFError is the classified error this package returns to callers.
// Matches the teacher's assets.AssetsError shape: a Retryable flag
// mapped onto failure.Severity.
type PDFError struct {
	Message   string
	Retryable bool
	Cause     ErrorCause
}

func (e *PDFError) Error() string {
	return fmt.Sprintf("pdfdoc error: %s: %s", e.Cause, e.Message)
}

func (e *PDFError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *PDFError) IsRetryable() bool {
	return e.Retryable
}
