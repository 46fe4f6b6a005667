package fetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amalresearch/evalpipeline/internal/fetch"
	"github.com/amalresearch/evalpipeline/internal/htmlcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *htmlcache.Cache {
	t.Helper()
	c, err := htmlcache.New(t.TempDir(), 30*24*time.Hour)
	require.NoError(t, err)
	return c
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("<html>should not be fetched</html>"))
	}))
	defer srv.Close()

	c := newCache(t)
	require.NoError(t, c.Put(srv.URL, "<html>cached</html>", srv.URL, true, nil, "", "", htmlcache.CurrentSchemaVersion, false, ""))

	f := fetch.New("test-agent", c, nil)
	result, ferr := f.Fetch(t.Context(), srv.URL, false, 0)
	require.Nil(t, ferr)
	assert.True(t, result.FromCache)
	assert.Equal(t, "<html>cached</html>", result.HTML)
	assert.Equal(t, 0, calls)
}

func TestFetch_FetchesAndCachesFreshURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>fresh</html>"))
	}))
	defer srv.Close()

	c := newCache(t)
	f := fetch.New("test-agent", c, nil)

	result, ferr := f.Fetch(t.Context(), srv.URL, false, 0)
	require.Nil(t, ferr)
	assert.Equal(t, "<html>fresh</html>", result.HTML)
	assert.False(t, result.FromCache)

	entry, ok := c.Get(srv.URL)
	require.True(t, ok)
	assert.Equal(t, "<html>fresh</html>", entry.HTML)
}

func TestFetch_ChallengeOnDefaultFallsBackToHeaderProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("User-Agent"), "Chrome/124") {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>let me in</html>"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html>cf-challenge detected, please wait</html>"))
	}))
	defer srv.Close()

	c := newCache(t)
	f := fetch.New("test-agent", c, nil)

	result, ferr := f.Fetch(t.Context(), srv.URL, false, 0)
	require.Nil(t, ferr)
	assert.Equal(t, "<html>let me in</html>", result.HTML)
	assert.Equal(t, "chrome-desktop", result.Profile)

	host := strings.TrimPrefix(srv.URL, "http://")
	learned, ok := c.LearnedProfile(host)
	require.True(t, ok)
	assert.Equal(t, "chrome-desktop", learned.Profile)
}

func TestFetch_304WithCacheEntryReturnsCachedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	// A 1ns TTL forces ShouldRefetch(force=false) to report true on the
	// cache-hit short-circuit, so the request actually reaches the
	// server and exercises the 304-with-cache-entry path.
	c, err := htmlcache.New(t.TempDir(), time.Nanosecond)
	require.NoError(t, err)
	require.NoError(t, c.Put(srv.URL, "<html>still good</html>", srv.URL, true, nil, "Mon, 01 Jan 2026 00:00:00 GMT", "etag-abc", htmlcache.CurrentSchemaVersion, false, ""))
	time.Sleep(time.Millisecond)

	f := fetch.New("test-agent", c, nil)
	result, ferr := f.Fetch(t.Context(), srv.URL, false, 0)
	require.Nil(t, ferr)
	assert.Equal(t, "<html>still good</html>", result.HTML)
	assert.True(t, result.FromCache)
}

func TestFetch_304WithNoCacheEntryRecursesOnceThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := newCache(t)
	f := fetch.New("test-agent", c, nil)

	_, ferr := f.Fetch(t.Context(), srv.URL, false, 0)
	require.NotNil(t, ferr)
	assert.Contains(t, ferr.Error(), "fetch error")
}

func TestFetch_AllProfilesFailReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(fmt.Sprintf("<html>%s still blocked</html>", r.Header.Get("User-Agent"))))
	}))
	defer srv.Close()

	c := newCache(t)
	f := fetch.New("test-agent", c, nil)
	f.BrowserFetch = func(ctx context.Context, targetURL string) (string, error) {
		return "<html>cf-challenge still blocking browser too</html>", nil
	}

	_, ferr := f.Fetch(t.Context(), srv.URL, false, 0)
	require.NotNil(t, ferr)
	assert.False(t, ferr.IsRetryable())
}
