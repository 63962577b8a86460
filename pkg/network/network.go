// Package network performs the requests the worker cannot answer from its caches.
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	tee "github.com/always-cache/offline-worker/pkg/response-writer-tee"
)

// Fetcher sends a request to the network.
// An error means no response could be obtained at all (offline, refused, timed out);
// any HTTP status, including 5xx, is a response.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

type Config struct {
	// Origin the pages are served from. Requests to it are sent to Upstream.
	Origin *url.URL
	// Upstream is where same-origin requests are actually sent.
	Upstream *url.URL
	// UpstreamHost overrides the Host header and TLS server name towards the upstream.
	UpstreamHost string
	Timeout      time.Duration
	Logger       *zerolog.Logger
}

// Client fetches same-origin requests from the upstream and
// everything else from its own host.
type Client struct {
	origin     *url.URL
	upstream   *url.URL
	director   func(req *http.Request)
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(config Config) *Client {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	c := &Client{
		origin:   config.Origin,
		upstream: config.Upstream,
		log:      logger.With().Str("component", "network").Logger(),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			// do not follow redirects, the page does that itself
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if config.Upstream != nil {
		c.director = createDirector(config.Upstream.Scheme, config.Upstream.Host, config.UpstreamHost)
	}
	// use provided hostname for upstream if configured
	if config.UpstreamHost != "" {
		c.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: config.UpstreamHost,
			},
		}
	}
	return c
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		req.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

// Fetch sends the request and returns the response as received, without following redirects.
func (c *Client) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	target := r.URL
	if !target.IsAbs() && c.origin != nil {
		target = c.origin.ResolveReference(target)
	}
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", target, err)
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	if c.director != nil && c.sameOrigin(target) {
		c.director(req)
	}
	c.log.Trace().Str("method", req.Method).Str("url", req.URL.String()).Msg("Fetching from network")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return res, nil
}

func (c *Client) sameOrigin(u *url.URL) bool {
	if c.origin == nil {
		return true
	}
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

// HandlerFetcher uses an in-process handler as the network.
type HandlerFetcher struct {
	Handler http.Handler
}

func (h HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	saver := tee.NewResponseSaver(nil)
	req := r.WithContext(ctx)
	h.Handler.ServeHTTP(saver, req)
	res, err := saver.ReadResponse(req)
	if err != nil {
		return nil, fmt.Errorf("read handler response: %w", err)
	}
	return res, nil
}

// Streamer is a Fetcher that can write its response straight to a client.
type Streamer interface {
	Fetcher
	Stream(rw http.ResponseWriter, r *http.Request) (status int, elapsed time.Duration)
}

// Stream serves the request into rw while recording it.
func (h HandlerFetcher) Stream(rw http.ResponseWriter, r *http.Request) (int, time.Duration) {
	saver := tee.NewResponseSaver(rw)
	h.Handler.ServeHTTP(saver, r)
	// a handler that wrote nothing still answers 200
	saver.Response()
	return saver.StatusCode(), time.Since(saver.CreatedAt)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
