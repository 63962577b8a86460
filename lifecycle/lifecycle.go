// Package lifecycle drives a worker generation through install and activation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/metrics"
	"github.com/always-cache/offline-worker/pkg/network"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

type State int

const (
	// Parsed is the state before install has started.
	Parsed State = iota
	Installing
	// Waiting means installed, but an older generation may still be in control.
	Waiting
	Active
	Redundant
)

func (s State) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Redundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const DefaultPrecacheConcurrency = 4

type Config struct {
	Storage    *cache.Storage
	Generation cache.Generation
	// Manifest lists the URLs fetched into the static cache at install.
	Manifest            []string
	Network             network.Fetcher
	PrecacheConcurrency int
	Logger              *zerolog.Logger
}

type Manager struct {
	storage     *cache.Storage
	generation  cache.Generation
	manifest    []string
	network     network.Fetcher
	concurrency int
	log         zerolog.Logger

	mutex    sync.Mutex
	state    State
	skip     chan struct{}
	skipOnce sync.Once
}

func NewManager(config Config) *Manager {
	logger := log.With().Str("version", config.Generation.Version).Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}
	concurrency := config.PrecacheConcurrency
	if concurrency <= 0 {
		concurrency = DefaultPrecacheConcurrency
	}
	return &Manager{
		storage:     config.Storage,
		generation:  config.Generation,
		manifest:    config.Manifest,
		network:     config.Network,
		concurrency: concurrency,
		log:         logger.With().Str("component", "lifecycle").Logger(),
		skip:        make(chan struct{}),
	}
}

func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// transition moves to the given state if the current state is one of from.
func (m *Manager) transition(to State, from ...State) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, f := range from {
		if m.state == f {
			m.log.Debug().Stringer("from", m.state).Stringer("to", to).Msg("Lifecycle transition")
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}

func (m *Manager) Generation() cache.Generation {
	return m.generation
}

// Install opens the static cache and precaches the manifest into it.
// Entries that cannot be fetched are skipped; only failing to open the
// static cache makes the install fail, leaving the manager redundant.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.transition(Installing, Parsed); err != nil {
		return err
	}
	static, err := m.storage.Open(ctx, m.generation.StaticName())
	if err != nil {
		m.Retire()
		metrics.CacheError("open")
		return fmt.Errorf("install: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, entry := range m.manifest {
		entry := entry
		g.Go(func() error {
			if err := m.precache(ctx, static, entry); err != nil {
				metrics.PrecacheFailed()
				m.log.Warn().Err(err).Str("url", entry).Msg("Could not precache entry")
			}
			return nil
		})
	}
	g.Wait()

	m.log.Info().Str("cache", static.Name()).Int("entries", len(m.manifest)).Msg("Installed")
	return m.transition(Waiting, Installing)
}

func (m *Manager) precache(ctx context.Context, static *cache.Cache, entry string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry, nil)
	if err != nil {
		return err
	}
	res, err := m.network.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return static.Put(ctx, req, res)
}

// SkipWaiting asks for activation without waiting for older generations to go away.
// It is only ever requested explicitly.
func (m *Manager) SkipWaiting() {
	m.skipOnce.Do(func() {
		m.log.Info().Msg("Skip waiting requested")
		close(m.skip)
	})
}

// SkipWaitingRequested is closed once SkipWaiting has been called.
func (m *Manager) SkipWaitingRequested() <-chan struct{} {
	return m.skip
}

// StaleCaches lists the caches that do not belong to this generation.
func (m *Manager) StaleCaches(ctx context.Context) ([]string, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	stale := make([]string, 0)
	for _, name := range names {
		if !m.generation.IsLive(name) {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// Activate deletes every stale cache and makes sure both live caches exist.
// Failing deletions are reported, but the manager becomes active regardless.
// Activating an active manager repeats the sweep.
func (m *Manager) Activate(ctx context.Context) error {
	state := m.State()
	if state != Waiting && state != Active {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, Active)
	}

	var errs []error
	stale, err := m.StaleCaches(ctx)
	if err != nil {
		metrics.CacheError("names")
		errs = append(errs, fmt.Errorf("list caches: %w", err))
	}
	for _, name := range stale {
		if _, err := m.storage.Delete(ctx, name); err != nil {
			metrics.CacheError("delete")
			m.log.Error().Err(err).Str("cache", name).Msg("Could not delete old cache")
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		metrics.CacheDeleted()
		m.log.Info().Str("cache", name).Msg("Deleted old cache")
	}
	for _, name := range m.generation.LiveNames() {
		if _, err := m.storage.Open(ctx, name); err != nil {
			metrics.CacheError("open")
			errs = append(errs, fmt.Errorf("open %s: %w", name, err))
		}
	}

	if err := m.transition(Active, Waiting, Active); err != nil {
		return err
	}
	m.log.Info().Msg("Activated")
	return errors.Join(errs...)
}

// Retire makes the manager redundant, from any state.
func (m *Manager) Retire() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.state = Redundant
}
