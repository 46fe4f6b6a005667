package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/amalresearch/evalpipeline/pkg/hashutil"
	"github.com/amalresearch/evalpipeline/pkg/retry"
)

// maxPDFSize caps a single download, matching the teacher's
// assets.LocalResolver size guard for arbitrary remote content.
const maxPDFSize = 50 * 1024 * 1024

// downloadHeaderProfiles are the two request-header sets tried in
// order, grounded on original_source's PDFDownloader ("try regular
// requests first, then a browser-impersonation profile on 403") and
// generalized to the internal/fetch profile-list shape. Unlike
// internal/fetch, no headless-browser fallback is attempted: a
// rendered browser page has no direct way to hand back the raw PDF
// bytes a download needs.
var downloadHeaderProfiles = []map[string]string{
	{
		"User-Agent": "evalpipeline-pdfdoc/1.0",
		"Accept":     "application/pdf,application/octet-stream,*/*",
	},
	{
		"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Accept":          "application/pdf,application/octet-stream,*/*",
		"Accept-Language": "en-US,en;q=0.9",
	},
}

// Downloader fetches, validates, hashes and dedupes PDF files.
type Downloader struct {
	httpClient *http.Client

	mu   sync.Mutex
	seen map[string]map[string]struct{} // charityID -> set of file hashes already stored
}

// NewDownloader constructs a Downloader with a 30s per-attempt timeout,
// matching the teacher's asset-fetch client.
func NewDownloader() *Downloader {
	return &Downloader{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		seen:       make(map[string]map[string]struct{}),
	}
}

// Outcome is the result of a successful Download call.
type Outcome struct {
	Data      []byte
	Hash      string
	Duplicate bool // true when (charityID, Hash) was already downloaded
}

// Download retrieves rawURL for charityID, retrying transient
// failures per retryParam within a header profile and falling
// forward to the next profile when a profile is outright forbidden.
// The returned file is validated (non-empty, %PDF magic bytes, not an
// HTML error page) before its hash is computed and checked against
// charityID's previously seen hashes.
func (d *Downloader) Download(ctx context.Context, charityID, rawURL string, retryParam retry.RetryParam) (Outcome, *PDFError) {
	var lastErr *PDFError
	for _, headers := range downloadHeaderProfiles {
		headers := headers
		result := retry.Retry(retryParam, func() ([]byte, *PDFError) {
			return d.attempt(ctx, rawURL, headers)
		})
		if result.IsSuccess() {
			return d.finish(charityID, result.Value())
		}

		cerr, ok := result.Err().(*PDFError)
		if !ok {
			return Outcome{}, &PDFError{Message: result.Err().Error(), Retryable: false, Cause: ErrCauseNetworkFailure}
		}
		lastErr = cerr
		if cerr.Cause != ErrCauseForbidden {
			return Outcome{}, lastErr
		}
	}
	return Outcome{}, lastErr
}

// attempt performs one HTTP GET and validates the response, returning
// a PDFError classified for retry.Retry's retryable check.
func (d *Downloader) attempt(ctx context.Context, rawURL string, headers map[string]string) ([]byte, *PDFError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &PDFError{Message: err.Error(), Retryable: false, Cause: ErrCauseNetworkFailure}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &PDFError{Message: err.Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &PDFError{Message: fmt.Sprintf("server error: %d", resp.StatusCode), Retryable: true, Cause: ErrCauseRequest5xx}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &PDFError{Message: "rate limited (429)", Retryable: true, Cause: ErrCauseRequestTooMany}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &PDFError{Message: "forbidden (403)", Retryable: false, Cause: ErrCauseForbidden}
	case resp.StatusCode >= 400:
		return nil, &PDFError{Message: fmt.Sprintf("client error: %d", resp.StatusCode), Retryable: false, Cause: ErrCauseForbidden}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize+1))
	if err != nil {
		return nil, &PDFError{Message: err.Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	if int64(len(body)) > maxPDFSize {
		return nil, &PDFError{Message: fmt.Sprintf("exceeds %d bytes", maxPDFSize), Retryable: false, Cause: ErrCauseTooLarge}
	}

	if err := validatePDFBytes(body); err != nil {
		return nil, err
	}
	return body, nil
}

// validatePDFBytes rejects an empty file, an HTML error page served
// with a 200, and anything else missing the %PDF magic header.
func validatePDFBytes(data []byte) *PDFError {
	if len(data) == 0 {
		return &PDFError{Message: "downloaded file is empty", Retryable: true, Cause: ErrCauseEmptyFile}
	}
	if bytes.HasPrefix(bytes.ToLower(bytes.TrimSpace(data)), []byte("<!doctype")) || bytes.HasPrefix(bytes.ToLower(bytes.TrimSpace(data)), []byte("<html")) {
		return &PDFError{Message: "server returned an HTML page instead of a PDF", Retryable: false, Cause: ErrCauseHTMLErrorPage}
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return &PDFError{Message: "missing %PDF magic bytes", Retryable: false, Cause: ErrCauseNotPDF}
	}
	return nil
}

// finish hashes a validated download and checks it against charityID's
// previously stored hashes, per spec.md §4.7's "if a (charity_id,
// file_hash) already exists, skip store."
func (d *Downloader) finish(charityID string, data []byte) (Outcome, *PDFError) {
	hash, err := hashutil.HashBytes(data, hashutil.HashAlgoSHA256)
	if err != nil {
		return Outcome{}, &PDFError{Message: err.Error(), Retryable: false, Cause: ErrCauseNotPDF}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	hashes, ok := d.seen[charityID]
	if !ok {
		hashes = make(map[string]struct{})
		d.seen[charityID] = hashes
	}
	_, duplicate := hashes[hash]
	hashes[hash] = struct{}{}

	return Outcome{Data: data, Hash: hash, Duplicate: duplicate}, nil
}
