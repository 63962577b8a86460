package offlineworker

import (
	"context"
	"net/http"

	"github.com/always-cache/offline-worker/pkg/network"
)

// Middleware puts a worker in front of next, which then plays the part of the network.
// The worker is installed and activated in the background; until then requests
// reach next directly.
func Middleware(ctx context.Context, config Config) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		config.Network = network.HandlerFetcher{Handler: next}
		w := CreateWorker(config)
		go func() {
			if err := w.Start(ctx); err != nil {
				w.log.Error().Err(err).Msg("Could not start worker")
			}
		}()
		return w
	}
}
