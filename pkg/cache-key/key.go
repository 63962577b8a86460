package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

type CacheKeyer struct {
	// Origin the worker serves. Relative request URLs are resolved against it,
	// so that "/static/app.js" and "http://origin/static/app.js" share a key.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// MethodPrefix gets the key prefix for all entries with the given method.
func (c CacheKeyer) MethodPrefix(method string) string {
	return method + methodSeparator
}

// GetKey returns the request identity used to store and look up responses.
// It is the method followed by the absolute URL without fragment.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.MethodPrefix(r.Method) + c.AbsoluteURL(r.URL).String()
}

// AbsoluteURL resolves u against the origin if it is relative.
func (c CacheKeyer) AbsoluteURL(u *url.URL) *url.URL {
	abs := u
	if !u.IsAbs() && c.Origin != nil {
		abs = c.Origin.ResolveReference(u)
	}
	if abs.Fragment == "" {
		return abs
	}
	noFragment := *abs
	noFragment.Fragment = ""
	noFragment.RawFragment = ""
	return &noFragment
}

// GetRequestFromKey generates a request equal (cache-wise) to the request that resulted in the key.
// Only GET keys can be turned back into requests.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
