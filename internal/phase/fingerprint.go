package phase

import (
	"strings"

	"github.com/amalresearch/evalpipeline/pkg/hashutil"
)

// Fingerprint hashes the given parts (code version, prompt version,
// config values) into the digest spec.md §4.12 compares against a
// phase's PhaseCacheEntry to decide cache validity.
//
// Grounded on pkg/hashutil.HashBytes, already adapted for content
// hashing in internal/htmlcache; reused here for a different kind of
// content (phase definition, not page body) rather than hand-rolling
// a second hash call site.
func Fingerprint(parts ...string) string {
	joined := strings.Join(parts, "\x00")
	digest, err := hashutil.HashBytes([]byte(joined), hashutil.HashAlgoSHA256)
	if err != nil {
		// HashBytes only fails on an unsupported algorithm constant,
		// which HashAlgoSHA256 never is.
		panic(err)
	}
	return digest
}
