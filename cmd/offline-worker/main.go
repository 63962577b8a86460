package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	offlineworker "github.com/always-cache/offline-worker"
	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/metrics"
	"github.com/always-cache/offline-worker/pkg/logging"
)

// this is set by goreleaser
var version string

type cliFlags struct {
	Config string `short:"c" env:"OFFLINE_WORKER_CONFIG" help:"Path to YAML config file"`

	// Overrides for the config file
	Origin       string        `env:"OFFLINE_WORKER_ORIGIN" help:"Origin the pages are served from e.g. http://localhost:8080"`
	Upstream     string        `env:"OFFLINE_WORKER_UPSTREAM" help:"Upstream to proxy same-origin requests to, must differ from origin"`
	UpstreamHost string        `env:"OFFLINE_WORKER_UPSTREAM_HOST" help:"Hostname of upstream, used for Host header and TLS"`
	AppVersion   string        `env:"OFFLINE_WORKER_APP_VERSION" help:"Cache version, bump to invalidate all caches"`
	WaitTimeout  time.Duration `env:"OFFLINE_WORKER_WAIT_TIMEOUT" help:"Activate over old caches after this long without skip-waiting (0 waits for skip-waiting only)"`

	// Cache store
	Provider string `env:"OFFLINE_WORKER_PROVIDER" default:"sqlite" enum:"memory,sqlite,redis" help:"Cache provider"`
	DB       string `env:"OFFLINE_WORKER_DB" default:"offline-worker.db" help:"SQLite file name (use 'memory' for in-memory db)"`
	Redis    string `env:"OFFLINE_WORKER_REDIS" default:"redis://localhost:6379/0" help:"Redis URL"`

	// Misc
	LogLevel             string `env:"OFFLINE_WORKER_LOG_LEVEL" default:"info" enum:"trace,debug,info,warn,error"`
	LogFile              string `env:"OFFLINE_WORKER_LOG_FILE" help:"Log file to use (in addition to stdout)"`
	ListenAddress        string `env:"OFFLINE_WORKER_LISTEN_ADDR" default:"0.0.0.0:8080" help:"Listen address e.g. 0.0.0.0:8080"`
	MetricsListenAddress string `env:"OFFLINE_WORKER_METRICS_LISTEN_ADDR" default:"0.0.0.0:9102" help:"Listen address for prometheus metrics, empty to disable"`
}

func (f cliFlags) connectionString() string {
	switch f.Provider {
	case "sqlite":
		if f.DB == "memory" {
			return "file::memory:?cache=shared"
		}
		return f.DB
	case "redis":
		return f.Redis
	}
	return ""
}

func main() {
	if version == "" {
		version = "DEV"
	}

	var cli cliFlags
	kong.Parse(&cli,
		kong.Name("offline-worker"),
		kong.Description("Caching proxy that keeps pages usable when the network is not."),
	)

	logFile, err := logging.SetupLogging(cli.LogLevel, cli.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot set up logging")
	}
	defer logFile.Close()
	log.Logger = log.With().Str("build", version).Logger()

	var fileConfig Config
	if cli.Config != "" {
		fileConfig, err = getConfig(cli.Config)
		if err != nil {
			log.Fatal().Err(err).Str("file", cli.Config).Msg("Could not read config")
		}
	}
	fileConfig = fileConfig.override(cli)

	provider, err := cache.GetProvider(cli.Provider, cli.connectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initiate cache provider")
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}

	workerConfig, err := fileConfig.workerConfig(provider)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	worker := offlineworker.CreateWorker(workerConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cli.MetricsListenAddress != "" {
		go metrics.Server(cli.MetricsListenAddress)
	}

	server := &http.Server{
		Addr:    cli.ListenAddress,
		Handler: worker,
	}
	go func() {
		log.Info().Msgf("Serving %s on %s", workerConfig.Origin, cli.ListenAddress)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Caught error listening")
		}
	}()

	started := make(chan struct{})
	go func() {
		defer close(started)
		if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Worker did not start")
			return
		}
		log.Info().Stringer("state", worker.State()).Msg("Worker started")
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server")
	}
	select {
	case <-started:
	case <-shutdownCtx.Done():
	}
	if err := worker.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Pending cache writes were abandoned")
	}
}
