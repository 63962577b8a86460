// Package strategy resolves intercepted requests from the caches and the network.
package strategy

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/metrics"
	"github.com/always-cache/offline-worker/pkg/network"
	cachestatus "github.com/always-cache/offline-worker/pkg/cache-status"
	serializer "github.com/always-cache/offline-worker/pkg/response-serializer"
)

const (
	OfflineBody      = "Offline - No cached content available"
	NetworkErrorBody = "Network error occurred"
)

// Extender lets a strategy keep working after the response has been handed out.
// Work passed to WaitUntil is awaited by the event, not by the page.
type Extender interface {
	WaitUntil(fn func(ctx context.Context) error)
}

// Strategy turns an intercepted request into a response. It never fails:
// when nothing better is available it returns a synthetic response.
type Strategy interface {
	Resolve(ctx context.Context, ext Extender, req *http.Request) *http.Response
}

// Caches is the cache state shared by the strategies.
type Caches struct {
	Storage    *cache.Storage
	Generation cache.Generation
	Logger     *zerolog.Logger
}

func (c Caches) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &log.Logger
}

// storeDynamic schedules a copy of res to be written to the dynamic cache.
// It returns the response to hand to the page. If the body cannot be read
// the response is unusable and nil is returned.
func (c Caches) storeDynamic(ext Extender, req *http.Request, res *http.Response) (*http.Response, bool) {
	clone, err := serializer.Clone(res)
	if err != nil {
		c.logger().Warn().Err(err).Str("url", req.URL.String()).Msg("Could not read network response")
		return nil, false
	}
	name := c.Generation.DynamicName()
	ext.WaitUntil(func(ctx context.Context) error {
		err := c.Storage.Cache(name).Put(ctx, req, clone)
		if err != nil {
			metrics.CacheError("put")
			c.logger().Error().Err(err).Str("cache", name).Str("url", req.URL.String()).Msg("Could not write to cache")
		}
		return err
	})
	return res, true
}

// cacheable reports whether the network response may be written to a cache.
func cacheable(req *http.Request, res *http.Response) bool {
	return req.Method == http.MethodGet && res.StatusCode == http.StatusOK
}

func (c Caches) matchErr(op string, req *http.Request, err error) {
	metrics.CacheError(op)
	c.logger().Warn().Err(err).Str("url", req.URL.String()).Msg("Cache lookup failed, treating as miss")
}

// synthetic builds a locally generated plain text response.
func synthetic(req *http.Request, status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func annotate(res *http.Response, cs cachestatus.CacheStatus) *http.Response {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(cachestatus.HeaderName, cs.String())
	return res
}

// fetch wraps network errors so that strategies only see a response or nil.
func fetch(ctx context.Context, fetcher network.Fetcher, req *http.Request, logger *zerolog.Logger) *http.Response {
	res, err := fetcher.Fetch(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Network request failed")
		return nil
	}
	return res
}
