// Package htmlcache is the on-disk HTML/JSON response cache from
// spec.md §4.3: one JSON document per URL, keyed by MD5(url), with
// TTL, content-hash idempotence, and the learned bot-bypass profile
// map persisted alongside it.
//
// Grounded on the teacher's internal/storage.Sink write pattern
// (EnsureDir + hash + write) and pkg/hashutil's SHA-256 hashing,
// generalized from "write a Markdown file" to "read-validate-write a
// cache document with TTL and conditional-GET metadata".
package htmlcache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/pkg/fileutil"
	"github.com/amalresearch/evalpipeline/pkg/hashutil"
)

// CurrentSchemaVersion is bumped whenever the extraction schema
// changes in a way that invalidates previously cached parse results.
const CurrentSchemaVersion = 1

// Cache is the on-disk HTML response cache for one source (website,
// a given collector, ...), each with its own TTL and root directory.
type Cache struct {
	root string
	ttl  time.Duration

	mu       sync.Mutex
	profiles map[string]domain.BotProfile
}

// New opens (or creates) a Cache rooted at dir with the given TTL.
// cloudflare_profiles.json, if present in dir's parent state
// directory, is NOT read here — call LoadProfiles separately, since
// the profile map is shared across every Cache instance for a run.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("htmlcache: %w", err)
	}
	return &Cache{root: dir, ttl: ttl, profiles: make(map[string]domain.BotProfile)}, nil
}

func keyFor(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) pathFor(url string) string {
	return filepath.Join(c.root, keyFor(url)+".json")
}

// Get reads and validates the cache entry for url. A timestamp
// authored without timezone info is treated as UTC. Expired or
// missing entries return (nil entry, false).
func (c *Cache) Get(url string) (*domain.HTMLCacheEntry, bool) {
	data, err := os.ReadFile(c.pathFor(url))
	if err != nil {
		return nil, false
	}
	var entry domain.HTMLCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if entry.CachedAt.Location() != time.UTC {
		entry.CachedAt = entry.CachedAt.UTC()
	}
	if c.ttl > 0 && time.Since(entry.CachedAt) > c.ttl {
		return nil, false
	}
	return &entry, true
}

// GetStale reads the entry for url ignoring TTL, for the one case
// that legitimately needs an expired entry's metadata: sourcing
// conditional-GET validators (ETag/Last-Modified) and serving the
// cached body back when the origin confirms it with a 304.
func (c *Cache) GetStale(url string) (*domain.HTMLCacheEntry, bool) {
	data, err := os.ReadFile(c.pathFor(url))
	if err != nil {
		return nil, false
	}
	var entry domain.HTMLCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Touch refreshes an entry's CachedAt to now without altering its
// content, for when a conditional GET's 304 confirms the cached body
// is still current and its TTL should be extended.
func (c *Cache) Touch(url string) error {
	entry, ok := c.GetStale(url)
	if !ok {
		return fmt.Errorf("htmlcache: no entry for %s to touch", url)
	}
	entry.CachedAt = time.Now().UTC()
	return c.write(url, *entry)
}

// Put overwrites the entry for url with fresh content, recomputing
// its content hash. If the new content hashes identically to the
// stored entry, the write is skipped (hash-equality idempotence, per
// spec.md §3 and TESTABLE PROPERTIES §8 item 2): the file's mtime is
// left untouched.
func (c *Cache) Put(url, html, finalURL string, hadData bool, methodsTried []string, lastModified, etag string, schemaVersion int, jsNeeded bool, failureReason string) error {
	newHash, err := hashutil.HashBytes([]byte(html), hashutil.HashAlgoSHA256)
	if err != nil {
		return err
	}

	if existing, ok := c.Get(url); ok && existing.ContentHash == newHash {
		return nil
	}

	entry := domain.HTMLCacheEntry{
		URL:                     url,
		HTML:                    html,
		FinalURL:                finalURL,
		CachedAt:                time.Now().UTC(),
		ContentHash:             newHash,
		LastModified:            lastModified,
		ETag:                    etag,
		SchemaVersion:           schemaVersion,
		HadData:                 hadData,
		JSRenderingNeeded:       jsNeeded,
		ExtractionFailureReason: failureReason,
		ExtractionMethodsTried:  methodsTried,
	}
	return c.write(url, entry)
}

// UpdateHadData patches extraction-outcome fields without touching
// the stored HTML or hash, for when that outcome is known only after
// the initial fetch+cache write.
func (c *Cache) UpdateHadData(url string, hadData bool, methods []string, jsNeeded bool, failureReason string) error {
	entry, ok := c.Get(url)
	if !ok {
		return fmt.Errorf("htmlcache: no entry for %s to update", url)
	}
	entry.HadData = hadData
	entry.ExtractionMethodsTried = methods
	entry.JSRenderingNeeded = jsNeeded
	entry.ExtractionFailureReason = failureReason
	return c.write(url, *entry)
}

func (c *Cache) write(url string, entry domain.HTMLCacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	path := c.pathFor(url)
	tmp, err := os.CreateTemp(c.root, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ShouldRefetch reports whether url should be fetched fresh: no entry,
// expired entry, or a caller-forced refetch.
func (c *Cache) ShouldRefetch(url string, force bool) (bool, string) {
	if force {
		return true, "force=true"
	}
	entry, ok := c.Get(url)
	if !ok {
		return true, "not cached or expired"
	}
	if entry.ETag != "" || entry.LastModified != "" {
		return false, "cached; conditional headers available for upstream conditional GET"
	}
	return false, "cached"
}

// NeedsLLMReprocessing reports whether the cached entry's schema
// version predates CurrentSchemaVersion.
func (c *Cache) NeedsLLMReprocessing(url string) (bool, string) {
	entry, ok := c.Get(url)
	if !ok {
		return false, "no cache entry"
	}
	if entry.SchemaVersion < CurrentSchemaVersion {
		return true, fmt.Sprintf("schema_version %d < current %d", entry.SchemaVersion, CurrentSchemaVersion)
	}
	return false, "up to date"
}

// HasContentChanged compares newHTML's SHA-256 to the cached hash.
func (c *Cache) HasContentChanged(url, newHTML string) bool {
	entry, ok := c.Get(url)
	if !ok {
		return true
	}
	newHash, err := hashutil.HashBytes([]byte(newHTML), hashutil.HashAlgoSHA256)
	if err != nil {
		return true
	}
	return newHash != entry.ContentHash
}

// profilesPath is the path cloudflare_profiles.json lives at, one
// level above the per-source cache root per spec.md §6.
func profilesPath(stateDir string) string {
	return filepath.Join(stateDir, "cloudflare_profiles.json")
}

// LoadProfiles pre-populates the learned bot-bypass profile map from
// stateDir/cloudflare_profiles.json, read once at startup.
func (c *Cache) LoadProfiles(stateDir string) error {
	data, err := os.ReadFile(profilesPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Unmarshal(data, &c.profiles)
}

// SaveProfiles persists the learned bot-bypass profile map, called at
// crawl teardown.
func (c *Cache) SaveProfiles(stateDir string) error {
	c.mu.Lock()
	data, err := json.MarshalIndent(c.profiles, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := fileutil.EnsureDir(stateDir); err != nil {
		return fmt.Errorf("htmlcache: %w", err)
	}
	return os.WriteFile(profilesPath(stateDir), data, 0644)
}

// LearnedProfile returns the bypass profile learned for domain, if any.
func (c *Cache) LearnedProfile(host string) (domain.BotProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.profiles[host]
	return p, ok
}

// LearnProfile records that profile worked for host.
func (c *Cache) LearnProfile(host, profile string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[host] = domain.BotProfile{Profile: profile, UpdatedAt: time.Now().UTC()}
}
