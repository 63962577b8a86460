package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
	serializer "github.com/always-cache/offline-worker/pkg/response-serializer"
)

// Storage is the set of named caches kept by a provider.
type Storage struct {
	provider Provider
	keyer    cachekey.CacheKeyer
}

func NewStorage(provider Provider, keyer cachekey.CacheKeyer) *Storage {
	return &Storage{
		provider: provider,
		keyer:    keyer,
	}
}

// Open returns the named cache, creating it if it does not exist.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if err := s.provider.Create(ctx, name); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return s.Cache(name), nil
}

// Cache returns a handle on the named cache without creating it.
// Lookups in a cache that does not exist are misses.
func (s *Storage) Cache(name string) *Cache {
	return &Cache{
		name:     name,
		provider: s.provider,
		keyer:    s.keyer,
	}
}

// Names lists the caches in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	return s.provider.Names(ctx)
}

// Delete drops the named cache. It reports whether the cache existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	return s.provider.Drop(ctx, name)
}

// Match looks the request up in every cache, in creation order,
// and returns the first stored response.
func (s *Storage) Match(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	names, err := s.provider.Names(ctx)
	if err != nil {
		return nil, false, err
	}
	var errs []error
	for _, name := range names {
		res, ok, err := s.Cache(name).Match(ctx, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return res, true, nil
		}
	}
	return nil, false, errors.Join(errs...)
}

// Cache is a single named cache.
type Cache struct {
	name     string
	provider Provider
	keyer    cachekey.CacheKeyer
}

func (c *Cache) Name() string {
	return c.name
}

// Match returns the stored response for the request.
// Only GET requests can match; anything else is a miss.
// An entry that cannot be decoded is purged.
func (c *Cache) Match(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	if req.Method != http.MethodGet {
		return nil, false, nil
	}
	key := c.keyer.GetKey(req)
	bytes, ok, err := c.provider.Get(ctx, c.name, key)
	if err != nil || !ok {
		return nil, false, err
	}
	sRes, err := serializer.BytesToStoredResponse(bytes)
	if err != nil {
		if purgeErr := c.provider.Purge(ctx, c.name, key); purgeErr != nil {
			err = errors.Join(err, purgeErr)
		}
		return nil, false, fmt.Errorf("%w %s in %s: %w", ErrCorruptEntry, key, c.name, err)
	}
	sRes.Response.Request = req
	return sRes.Response, true, nil
}

// Put stores the response under the request's key, replacing any previous entry.
// The response body is consumed and replaced, so res can still be read afterwards.
func (c *Cache) Put(ctx context.Context, req *http.Request, res *http.Response) error {
	if req.Method != http.MethodGet {
		return ErrMethodNotCacheable
	}
	stored, err := serializer.Clone(res)
	if err != nil {
		return err
	}
	stored.Request = c.absoluteRequest(ctx, req)
	bytes, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: stored,
		StoredAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("serialize response: %w", err)
	}
	return c.provider.Put(ctx, c.name, c.keyer.GetKey(req), bytes)
}

func (c *Cache) absoluteRequest(ctx context.Context, req *http.Request) *http.Request {
	abs := req.Clone(ctx)
	abs.URL = c.keyer.AbsoluteURL(req.URL)
	if abs.Host == "" {
		abs.Host = abs.URL.Host
	}
	return abs
}

// Keys returns the requests stored in the cache.
func (c *Cache) Keys(ctx context.Context) ([]*http.Request, error) {
	keys, err := c.provider.Keys(ctx, c.name)
	if err != nil {
		return nil, err
	}
	reqs := make([]*http.Request, 0, len(keys))
	for _, key := range keys {
		req, err := c.keyer.GetRequestFromKey(key)
		if err != nil {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Delete removes the entry for the request.
func (c *Cache) Delete(ctx context.Context, req *http.Request) error {
	return c.provider.Purge(ctx, c.name, c.keyer.GetKey(req))
}
