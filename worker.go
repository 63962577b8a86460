package offlineworker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/classify"
	"github.com/always-cache/offline-worker/lifecycle"
	"github.com/always-cache/offline-worker/notify"
	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
	"github.com/always-cache/offline-worker/pkg/network"
	"github.com/always-cache/offline-worker/strategy"
)

const (
	DefaultAppID          = "ai-media-assistant"
	DefaultVersion        = "v1.0.0"
	DefaultRootPath       = "/"
	DefaultNetworkTimeout = 30 * time.Second

	SyncDownloads = "sync-downloads"
)

// DefaultManifest is precached at install.
var DefaultManifest = []string{
	"/",
	"/static/css/style.css",
	"/static/js/script.js",
	"/static/manifest.json",
	"/static/img/dfd.png",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/js/bootstrap.bundle.min.js",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.5.1/css/all.min.css",
	"https://cdn.jsdelivr.net/npm/bootstrap-icons@1.10.0/font/bootstrap-icons.css",
}

var DefaultAllowedPrefixes = []string{
	"https://cdn.jsdelivr.net/",
	"https://cdnjs.cloudflare.com/",
}

type Config struct {
	// Storage for the caches. An in-memory store is used if nil.
	Provider   cache.Provider
	Generation cache.Generation
	// Origin the pages are served from.
	Origin *url.URL
	// Upstream receives same-origin requests. Defaults to Origin.
	Upstream *url.URL
	// Hostname to use for upstream HTTP requests and TLS negotiation.
	UpstreamHost   string
	NetworkTimeout time.Duration
	// Network overrides the upstream client, e.g. with an in-process handler.
	Network network.Fetcher

	Manifest            []string
	PrecacheConcurrency int
	AllowedPrefixes     []string
	APIMarkers          []string
	OfflinePage         string
	// RootPath is opened when a notification is clicked.
	RootPath      string
	Notifications notify.Options
	// WaitTimeout bounds how long Start waits for skip-waiting while old caches exist.
	// Zero or less waits for skip-waiting only.
	WaitTimeout time.Duration

	Notifier notify.Notifier
	Opener   notify.Opener
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type SyncHook func(ctx context.Context) error

type Worker struct {
	handlers   map[EventKind]Handler
	syncHooks  map[string]SyncHook
	lifecycle  *lifecycle.Manager
	storage    *cache.Storage
	generation cache.Generation
	classifier classify.Classifier
	strategies map[classify.Class]strategy.Strategy
	network    network.Fetcher
	notifier   notify.Notifier
	opener     notify.Opener
	notifyOpts notify.Options
	rootPath   string
	origin     *url.URL

	waitTimeout time.Duration
	log         zerolog.Logger
	extensions  sync.WaitGroup
	closing     bool
	mutex       sync.RWMutex
	router      http.Handler
}

// CreateWorker wires up a worker from the config.
// Nothing is fetched or stored until Start is called.
func CreateWorker(config Config) *Worker {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	config = withDefaults(config)
	logger = logger.With().Str("app", config.Generation.AppID).Str("version", config.Generation.Version).Logger()

	fetcher := config.Network
	if fetcher == nil {
		fetcher = network.NewClient(network.Config{
			Origin:       config.Origin,
			Upstream:     config.Upstream,
			UpstreamHost: config.UpstreamHost,
			Timeout:      config.NetworkTimeout,
			Logger:       &logger,
		})
	}
	storage := cache.NewStorage(config.Provider, cachekey.NewCacheKeyer(config.Origin))
	caches := strategy.Caches{
		Storage:    storage,
		Generation: config.Generation,
		Logger:     &logger,
	}

	registry := notify.NewRegistry(&logger)
	w := &Worker{
		syncHooks:  make(map[string]SyncHook),
		storage:    storage,
		generation: config.Generation,
		classifier: classify.New(config.Origin, config.AllowedPrefixes, config.APIMarkers),
		strategies: map[classify.Class]strategy.Strategy{
			classify.StaticAsset: strategy.CacheFirst{Caches: caches, Network: fetcher, OfflinePage: config.OfflinePage},
			classify.APICall:     strategy.NetworkFirst{Caches: caches, Network: fetcher},
		},
		lifecycle: lifecycle.NewManager(lifecycle.Config{
			Storage:             storage,
			Generation:          config.Generation,
			Manifest:            config.Manifest,
			Network:             fetcher,
			PrecacheConcurrency: config.PrecacheConcurrency,
			Logger:              &logger,
		}),
		network:     fetcher,
		notifier:    config.Notifier,
		opener:      config.Opener,
		notifyOpts:  config.Notifications,
		rootPath:    config.RootPath,
		origin:      config.Origin,
		waitTimeout: config.WaitTimeout,
		log:         logger,
	}
	if w.notifier == nil {
		w.notifier = registry
	}
	if w.opener == nil {
		w.opener = registry
	}
	w.handlers = map[EventKind]Handler{
		EventInstall:           w.handleInstall,
		EventActivate:          w.handleActivate,
		EventFetch:             w.handleFetch,
		EventPush:              w.handlePush,
		EventNotificationClick: w.handleNotificationClick,
		EventSync:              w.handleSync,
		EventMessage:           w.handleMessage,
	}
	w.RegisterSync(SyncDownloads, syncDownloads)
	w.router = w.createRouter()
	return w
}

func withDefaults(config Config) Config {
	if config.Provider == nil {
		config.Provider = cache.NewMemProvider()
	}
	if config.Generation.AppID == "" {
		config.Generation.AppID = DefaultAppID
	}
	if config.Generation.Version == "" {
		config.Generation.Version = DefaultVersion
	}
	if config.Origin == nil {
		config.Origin = &url.URL{Scheme: "http", Host: "localhost:8080"}
	}
	if config.Upstream == nil {
		config.Upstream = config.Origin
	}
	if config.NetworkTimeout == 0 {
		config.NetworkTimeout = DefaultNetworkTimeout
	}
	if config.Manifest == nil {
		config.Manifest = DefaultManifest
	}
	if config.AllowedPrefixes == nil {
		config.AllowedPrefixes = DefaultAllowedPrefixes
	}
	if config.OfflinePage == "" {
		config.OfflinePage = strategy.DefaultOfflinePage
	}
	if config.RootPath == "" {
		config.RootPath = DefaultRootPath
	}
	return config
}

// On replaces the handler for an event kind.
func (w *Worker) On(kind EventKind, h Handler) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.handlers[kind] = h
}

// RegisterSync adds a hook run by sync events with the given tag.
func (w *Worker) RegisterSync(tag string, hook SyncHook) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.syncHooks[tag] = hook
}

// Dispatch delivers the event to its handler. It does not wait for extensions;
// use Event.Wait for that.
func (w *Worker) Dispatch(ctx context.Context, e *Event) error {
	w.mutex.RLock()
	h, ok := w.handlers[e.Kind]
	w.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, e.Kind)
	}
	e.ctx = ctx
	e.worker = w
	return h(ctx, e)
}

// dispatchAndWait dispatches the event and waits for it to settle.
func (w *Worker) dispatchAndWait(ctx context.Context, e *Event) error {
	if err := w.Dispatch(ctx, e); err != nil {
		return err
	}
	return e.Wait()
}

// Start installs and activates the worker generation.
// While caches of an older generation exist, activation waits for an explicit
// skip-waiting message, or the wait timeout if one is set.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.dispatchAndWait(ctx, NewEvent(EventInstall)); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	stale, err := w.lifecycle.StaleCaches(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("Could not list caches, activating anyway")
	}
	if len(stale) > 0 {
		var timeout <-chan time.Time
		if w.waitTimeout > 0 {
			timer := time.NewTimer(w.waitTimeout)
			defer timer.Stop()
			timeout = timer.C
		}
		w.log.Info().Strs("stale", stale).Dur("timeout", w.waitTimeout).Msg("Waiting for skip waiting")
		select {
		case <-w.lifecycle.SkipWaitingRequested():
		case <-timeout:
			w.log.Info().Msg("Wait timeout reached")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.dispatchAndWait(ctx, NewEvent(EventActivate)); err != nil {
		if w.lifecycle.State() != lifecycle.Active {
			return fmt.Errorf("activate: %w", err)
		}
		w.log.Warn().Err(err).Msg("Activated with errors")
	}
	return nil
}

// State is the lifecycle state of the worker generation.
func (w *Worker) State() lifecycle.State {
	return w.lifecycle.State()
}

// Shutdown waits for running extensions, e.g. cache writes, to finish.
// Extensions added after Shutdown was called are rejected with ErrShuttingDown.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mutex.Lock()
	w.closing = true
	w.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		w.extensions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers an extension unless the worker is shutting down.
func (w *Worker) track() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closing {
		return false
	}
	w.extensions.Add(1)
	return true
}

// Retire makes the worker redundant. It stops intercepting requests.
func (w *Worker) Retire() {
	w.lifecycle.Retire()
}
