package strategy

import (
	"context"
	"net/http"

	"github.com/always-cache/offline-worker/classify"
	"github.com/always-cache/offline-worker/metrics"
	"github.com/always-cache/offline-worker/pkg/network"
	cachestatus "github.com/always-cache/offline-worker/pkg/cache-status"
)

// NetworkFirst always prefers a live response and falls back to the last
// stored copy of the exact request when the network is unreachable.
type NetworkFirst struct {
	Caches
	Network network.Fetcher
}

func (s NetworkFirst) Resolve(ctx context.Context, ext Extender, req *http.Request) *http.Response {
	class := classify.APICall.String()
	var cs cachestatus.CacheStatus
	cs.Forward(cachestatus.FwdRequest)
	if req.Method != http.MethodGet {
		cs.Forward(cachestatus.FwdMethod)
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

	res, ok, err := s.Storage.Match(ctx, req)
	if err != nil {
		s.matchErr("match", req, err)
	}
	if ok {
		cs.Hit()
		cs.Detail = cachestatus.DetailFallback
		metrics.FetchServed(class, metrics.SourceFallback)
		return annotate(res, cs)
	}
	cs.Detail = cachestatus.DetailNetworkError
	metrics.FetchServed(class, metrics.SourceSynthetic)
	return annotate(synthetic(req, http.StatusServiceUnavailable, NetworkErrorBody), cs)
}
