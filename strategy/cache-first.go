package strategy

import (
	"context"
	"net/http"

	"github.com/always-cache/offline-worker/classify"
	"github.com/always-cache/offline-worker/metrics"
	"github.com/always-cache/offline-worker/pkg/network"
	cachestatus "github.com/always-cache/offline-worker/pkg/cache-status"
)

const DefaultOfflinePage = "/offline.html"

// CacheFirst serves static assets from the static cache and only goes to the
// network on a miss. Successful network responses are kept in the dynamic cache.
type CacheFirst struct {
	Caches
	Network network.Fetcher
	// OfflinePage is looked up in all caches when the network is unreachable.
	OfflinePage string
}

func (s CacheFirst) Resolve(ctx context.Context, ext Extender, req *http.Request) *http.Response {
	class := classify.StaticAsset.String()
	var cs cachestatus.CacheStatus

	res, ok, err := s.Storage.Cache(s.Generation.StaticName()).Match(ctx, req)
	if err != nil {
		s.matchErr("match", req, err)
	}
	if ok {
		cs.Hit()
		metrics.FetchServed(class, metrics.SourceCache)
		return annotate(res, cs)
	}
	if req.Method != http.MethodGet {
		cs.Forward(cachestatus.FwdMethod)
	} else {
		cs.Forward(cachestatus.FwdUriMiss)
	}

	if res := fetch(ctx, s.Network, req, s.logger()); res != nil {
		if !cacheable(req, res) {
			metrics.FetchServed(class, metrics.SourceNetwork)
			return annotate(res, cs)
		}
		if res, ok := s.storeDynamic(ext, req, res); ok {
			cs.Stored = true
			metrics.FetchServed(class, metrics.SourceNetwork)
			return annotate(res, cs)
		}
	}

	return s.offline(ctx, req, cs)
}

func (s CacheFirst) offline(ctx context.Context, req *http.Request, cs cachestatus.CacheStatus) *http.Response {
	class := classify.StaticAsset.String()
	page := s.OfflinePage
	if page == "" {
		page = DefaultOfflinePage
	}
	pageReq, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err == nil {
		res, ok, err := s.Storage.Match(ctx, pageReq)
		if err != nil {
			s.matchErr("match", pageReq, err)
		}
		if ok {
			res.Request = req
			cs.Detail = cachestatus.DetailOfflinePage
			metrics.FetchServed(class, metrics.SourceFallback)
			return annotate(res, cs)
		}
	}
	cs.Detail = cachestatus.DetailOffline
	metrics.FetchServed(class, metrics.SourceSynthetic)
	return annotate(synthetic(req, http.StatusServiceUnavailable, OfflineBody), cs)
}
