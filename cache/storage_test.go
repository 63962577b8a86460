package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
)

func testProviders(t *testing.T) map[string]Provider {
	t.Helper()
	sqlite, err := NewSQLiteProvider(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Could not open sqlite provider: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	server := miniredis.RunT(t)
	redisProvider := NewRedisProviderWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	t.Cleanup(func() { redisProvider.Close() })

	return map[string]Provider{
		"memory": NewMemProvider(),
		"sqlite": sqlite,
		"redis":  redisProvider,
	}
}

func testStorage(p Provider) *Storage {
	origin, _ := url.Parse("http://localhost:8080")
	return NewStorage(p, cachekey.NewCacheKeyer(origin))
}

func okResponse(body string) *http.Response {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/plain")
	rec.WriteHeader(http.StatusOK)
	io.WriteString(rec, body)
	return rec.Result()
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	bts, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Could not read body: %v", err)
	}
	return string(bts)
}

func TestPutThenMatch(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := testStorage(p).Open(ctx, "app-v1")
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			req := httptest.NewRequest("GET", "/static/app.js", nil)
			res := okResponse("console.log(1)")
			if err := c.Put(ctx, req, res); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if body := readBody(t, res); body != "console.log(1)" {
				t.Fatalf("Body of original response is '%s' after Put", body)
			}

			abs := httptest.NewRequest("GET", "http://localhost:8080/static/app.js", nil)
			cached, ok, err := c.Match(ctx, abs)
			if err != nil || !ok {
				t.Fatalf("Match: ok=%v err=%v", ok, err)
			}
			if cached.StatusCode != http.StatusOK {
				t.Fatalf("Status is %d", cached.StatusCode)
			}
			if ct := cached.Header.Get("Content-Type"); ct != "text/plain" {
				t.Fatalf("Content-Type is %s", ct)
			}
			if body := readBody(t, cached); body != "console.log(1)" {
				t.Fatalf("Cached body is '%s'", body)
			}
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := testStorage(p).Open(ctx, "app-dynamic-v1")
			req := httptest.NewRequest("GET", "/api/jobs", nil)
			c.Put(ctx, req, okResponse("first"))
			c.Put(ctx, req, okResponse("second"))
			cached, ok, _ := c.Match(ctx, req)
			if !ok {
				t.Fatalf("Expected a stored response")
			}
			if body := readBody(t, cached); body != "second" {
				t.Fatalf("Body is '%s', expected last write to win", body)
			}
			keys, _ := c.Keys(ctx)
			if len(keys) != 1 {
				t.Fatalf("Cache has %d keys, expected 1", len(keys))
			}
		})
	}
}

func TestOnlyGetIsCacheable(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := testStorage(p).Open(ctx, "app-v1")
			req := httptest.NewRequest("POST", "/api/download", nil)
			if err := c.Put(ctx, req, okResponse("job")); !errors.Is(err, ErrMethodNotCacheable) {
				t.Fatalf("Put of POST returned %v", err)
			}
			if _, ok, _ := c.Match(ctx, req); ok {
				t.Fatalf("POST matched a stored response")
			}
		})
	}
}

func TestNamesInCreationOrder(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testStorage(p)
			for _, n := range []string{"app-v1", "app-dynamic-v1", "app-v2"} {
				if _, err := s.Open(ctx, n); err != nil {
					t.Fatalf("Open %s: %v", n, err)
				}
			}
			// reopening must not reorder
			s.Open(ctx, "app-v1")
			names, err := s.Names(ctx)
			if err != nil {
				t.Fatalf("Names: %v", err)
			}
			if diff := cmp.Diff([]string{"app-v1", "app-dynamic-v1", "app-v2"}, names); diff != "" {
				t.Fatalf("Names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeleteCache(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testStorage(p)
			c, _ := s.Open(ctx, "app-v1")
			req := httptest.NewRequest("GET", "/index.html", nil)
			c.Put(ctx, req, okResponse("<html>"))

			deleted, err := s.Delete(ctx, "app-v1")
			if err != nil || !deleted {
				t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
			}
			deleted, _ = s.Delete(ctx, "app-v1")
			if deleted {
				t.Fatalf("Second delete reported an existing cache")
			}
			if _, ok, _ := s.Match(ctx, req); ok {
				t.Fatalf("Entry survived cache deletion")
			}
			names, _ := s.Names(ctx)
			if len(names) != 0 {
				t.Fatalf("Names after delete: %v", names)
			}
		})
	}
}

func TestStorageMatchSearchesAllCaches(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testStorage(p)
			static, _ := s.Open(ctx, "app-v1")
			dynamic, _ := s.Open(ctx, "app-dynamic-v1")
			static.Put(ctx, httptest.NewRequest("GET", "/offline.html", nil), okResponse("offline"))
			dynamic.Put(ctx, httptest.NewRequest("GET", "/api/jobs", nil), okResponse("jobs"))

			for path, expected := range map[string]string{"/offline.html": "offline", "/api/jobs": "jobs"} {
				res, ok, err := s.Match(ctx, httptest.NewRequest("GET", path, nil))
				if err != nil || !ok {
					t.Fatalf("Match %s: ok=%v err=%v", path, ok, err)
				}
				if body := readBody(t, res); body != expected {
					t.Fatalf("Body of %s is '%s'", path, body)
				}
			}
			if _, ok, _ := s.Match(ctx, httptest.NewRequest("GET", "/missing", nil)); ok {
				t.Fatalf("Unexpected match")
			}
		})
	}
}

func TestCorruptEntryIsPurged(t *testing.T) {
	ctx := context.Background()
	p := NewMemProvider()
	s := testStorage(p)
	c, _ := s.Open(ctx, "app-v1")
	req := httptest.NewRequest("GET", "/broken", nil)
	p.Put(ctx, "app-v1", "GET:http://localhost:8080/broken", []byte("garbage"))

	if _, ok, err := c.Match(ctx, req); ok || !errors.Is(err, ErrCorruptEntry) {
		t.Fatalf("Match of corrupt entry: ok=%v err=%v", ok, err)
	}
	keys, _ := p.Keys(ctx, "app-v1")
	if len(keys) != 0 {
		t.Fatalf("Corrupt entry not purged: %v", keys)
	}
}

func TestCacheKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := testStorage(NewMemProvider()).Open(ctx, "app-v1")
	for _, path := range []string{"/", "/index.html", "/static/app.js"} {
		c.Put(ctx, httptest.NewRequest("GET", path, nil), okResponse(path))
	}
	c.Delete(ctx, httptest.NewRequest("GET", "/index.html", nil))

	reqs, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	urls := make([]string, 0, len(reqs))
	for _, r := range reqs {
		urls = append(urls, r.URL.String())
	}
	sort.Strings(urls)
	expected := []string{"http://localhost:8080/", "http://localhost:8080/static/app.js"}
	if diff := cmp.Diff(expected, urls); diff != "" {
		t.Fatalf("Keys mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerationNames(t *testing.T) {
	g := Generation{AppID: "ai-media-assistant", Version: "v1.0.0"}
	if diff := cmp.Diff([]string{"ai-media-assistant-v1.0.0", "ai-media-assistant-dynamic-v1.0.0"}, g.LiveNames()); diff != "" {
		t.Fatalf("LiveNames mismatch (-want +got):\n%s", diff)
	}
	if g.IsLive("ai-media-assistant-v0.9.0") {
		t.Fatalf("Old version reported live")
	}
	if !g.IsLive(g.DynamicName()) {
		t.Fatalf("Dynamic cache not live")
	}
}

func TestUnknownProvider(t *testing.T) {
	if _, err := GetProvider("memcached", ""); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("GetProvider returned %v", err)
	}
}

func TestRedisPutCreatesCache(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	p, err := NewRedisProvider("redis://" + server.Addr() + "/0")
	if err != nil {
		t.Fatalf("NewRedisProvider: %v", err)
	}
	defer p.Close()

	if err := p.Put(ctx, "app-dynamic-v1", "GET:http://localhost:8080/api/jobs", []byte("entry")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p.Put(ctx, "app-v1", "GET:http://localhost:8080/", []byte("entry"))
	// a later put must not move the cache in creation order
	p.Put(ctx, "app-dynamic-v1", "GET:http://localhost:8080/api/info", []byte("entry"))

	names, err := p.Names(ctx)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if diff := cmp.Diff([]string{"app-dynamic-v1", "app-v1"}, names); diff != "" {
		t.Fatalf("Names mismatch (-want +got):\n%s", diff)
	}
	if !server.Exists("offline-worker:cache:app-dynamic-v1") {
		t.Fatalf("Cache hash missing, keys are %v", server.Keys())
	}

	if dropped, err := p.Drop(ctx, "app-dynamic-v1"); err != nil || !dropped {
		t.Fatalf("Drop: dropped=%v err=%v", dropped, err)
	}
	if server.Exists("offline-worker:cache:app-dynamic-v1") {
		t.Fatalf("Cache hash survived drop")
	}
	if _, ok, _ := p.Get(ctx, "app-dynamic-v1", "GET:http://localhost:8080/api/jobs"); ok {
		t.Fatalf("Entry survived drop")
	}
}

func TestRedisUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	if _, err := NewRedisProvider("redis://" + addr + "/0"); err == nil {
		t.Fatalf("Connected to a closed server")
	}
}
