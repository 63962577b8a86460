package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offline_worker"

var fetchCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "fetch_total",
	Help:      "Intercepted requests, partitioned by request class and where the response came from",
}, []string{"class", "source"})

var precacheFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "precache_failures_total",
	Help:      "Manifest entries that could not be precached during install",
})

var cachesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "caches_deleted_total",
	Help:      "Stale caches deleted at activation",
})

var cacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "cache_errors_total",
	Help:      "Cache store operations that failed, partitioned by operation",
}, []string{"op"})

// Sources of an intercepted response.
const (
	SourceCache     = "cache"
	SourceNetwork   = "network"
	SourceFallback  = "fallback"
	SourceSynthetic = "synthetic"
	SourcePassThru  = "passthrough"
)

func init() {
	prometheus.MustRegister(fetchCount, precacheFailures, cachesDeleted, cacheErrors)
	prometheus.MustRegister(reqCount, reqDur, respSize, reqSize)
}

func FetchServed(class, source string) {
	fetchCount.WithLabelValues(class, source).Inc()
}

func PrecacheFailed() {
	precacheFailures.Inc()
}

func CacheDeleted() {
	cachesDeleted.Inc()
}

func CacheError(op string) {
	cacheErrors.WithLabelValues(op).Inc()
}
