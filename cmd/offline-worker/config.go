package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	offlineworker "github.com/always-cache/offline-worker"
	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/notify"
)

// Config is the YAML config file.
type Config struct {
	AppID               string         `yaml:"appId"`
	Version             string         `yaml:"version"`
	Origin              string         `yaml:"origin"`
	Upstream            string         `yaml:"upstream"`
	UpstreamHost        string         `yaml:"upstreamHost"`
	Manifest            []string       `yaml:"manifest"`
	AllowedHosts        []string       `yaml:"allowedHosts"`
	APIMarkers          []string       `yaml:"apiMarkers"`
	OfflinePage         string         `yaml:"offlinePage"`
	RootPath            string         `yaml:"rootPath"`
	Notifications       notify.Options `yaml:"notifications"`
	PrecacheConcurrency int            `yaml:"precacheConcurrency"`
	NetworkTimeout      time.Duration  `yaml:"networkTimeout"`
	WaitTimeout         time.Duration  `yaml:"waitTimeout"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// override replaces file values with the ones given on the command line.
func (c Config) override(flags cliFlags) Config {
	if flags.AppVersion != "" {
		c.Version = flags.AppVersion
	}
	if flags.Origin != "" {
		c.Origin = flags.Origin
	}
	if flags.Upstream != "" {
		c.Upstream = flags.Upstream
	}
	if flags.UpstreamHost != "" {
		c.UpstreamHost = flags.UpstreamHost
	}
	if flags.WaitTimeout != 0 {
		c.WaitTimeout = flags.WaitTimeout
	}
	return c
}

func (c Config) workerConfig(provider cache.Provider) (offlineworker.Config, error) {
	config := offlineworker.Config{
		Provider: provider,
		Generation: cache.Generation{
			AppID:   c.AppID,
			Version: c.Version,
		},
		UpstreamHost:        c.UpstreamHost,
		NetworkTimeout:      c.NetworkTimeout,
		Manifest:            c.Manifest,
		PrecacheConcurrency: c.PrecacheConcurrency,
		AllowedPrefixes:     c.AllowedHosts,
		APIMarkers:          c.APIMarkers,
		OfflinePage:         c.OfflinePage,
		RootPath:            c.RootPath,
		Notifications:       c.Notifications,
		WaitTimeout:         c.WaitTimeout,
	}
	if c.Origin == "" {
		return config, fmt.Errorf("origin is required")
	}
	origin, err := parseOrigin(c.Origin)
	if err != nil {
		return config, err
	}
	config.Origin = origin
	if c.Upstream == "" {
		return config, fmt.Errorf("upstream is required")
	}
	upstream, err := parseOrigin(c.Upstream)
	if err != nil {
		return config, err
	}
	// the origin is where the worker itself is reached, so misses would loop back into it
	if upstream.String() == origin.String() {
		return config, fmt.Errorf("upstream %s is the worker's own origin", upstream)
	}
	config.Upstream = upstream
	return config, nil
}

// parseOrigin accepts scheme and host only. Origins with paths are not supported.
func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse url %s: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme in %s", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("no host in %s", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("origins with paths are not supported: %s", raw)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}
