// Package classify decides how an intercepted request is handled.
package classify

import (
	"net/url"
	"strings"
)

type Class int

const (
	// Ignored requests are not intercepted and go straight to the network.
	Ignored Class = iota
	StaticAsset
	APICall
)

func (c Class) String() string {
	switch c {
	case StaticAsset:
		return "static"
	case APICall:
		return "api"
	default:
		return "ignored"
	}
}

var DefaultAPIMarkers = []string{"/api/", "/download"}

type Classifier struct {
	// Origin the worker controls.
	Origin *url.URL
	// AllowedPrefixes lists external URL prefixes that are intercepted
	// like same-origin static assets, e.g. "https://cdn.jsdelivr.net/".
	AllowedPrefixes []string
	// APIMarkers are path substrings that mark a same-origin request as an API call.
	APIMarkers []string
}

func New(origin *url.URL, allowedPrefixes, apiMarkers []string) Classifier {
	if apiMarkers == nil {
		apiMarkers = DefaultAPIMarkers
	}
	return Classifier{
		Origin:          origin,
		AllowedPrefixes: allowedPrefixes,
		APIMarkers:      apiMarkers,
	}
}

// Classify returns the class of the request URL.
// Relative URLs are resolved against the origin first.
func (c Classifier) Classify(u *url.URL) Class {
	if !u.IsAbs() && c.Origin != nil {
		u = c.Origin.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Ignored
	}
	if !c.SameOrigin(u) {
		if c.allowed(u) {
			return StaticAsset
		}
		return Ignored
	}
	for _, marker := range c.APIMarkers {
		if strings.Contains(u.Path, marker) {
			return APICall
		}
	}
	return StaticAsset
}

// SameOrigin compares scheme and host (including port).
func (c Classifier) SameOrigin(u *url.URL) bool {
	if c.Origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.Origin.Scheme) && strings.EqualFold(u.Host, c.Origin.Host)
}

func (c Classifier) allowed(u *url.URL) bool {
	s := u.String()
	for _, prefix := range c.AllowedPrefixes {
		if prefix != "" && strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
