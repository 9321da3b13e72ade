// Package registry wires one MetricCache per metric type and is what the HTTP
// layer reads from.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/collector"
	"github.com/illmade-knight/go-readcache/pkg/ranking"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownMetric is returned for metric types with no registered cache.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrAlreadyRegistered is returned when a second cache is registered for
	// a metric type.
	ErrAlreadyRegistered = errors.New("metric already registered")
)

// managedCache is the type-independent part of a MetricCache.
type managedCache interface {
	Type() types.MetricType
	Initialize(ctx context.Context) error
	Refresh(ctx context.Context) error
	Stats() cache.Stats
	Close() error
}

// Registry holds exactly one cache per metric type. All caches share one
// CachingStrategy.
type Registry struct {
	strategy *cache.CachingStrategy
	logger   zerolog.Logger

	mu      sync.RWMutex
	order   []types.MetricType
	caches  map[types.MetricType]managedCache
	proxied map[types.MetricType]*cache.MetricCache[json.RawMessage]
	repos   *cache.MetricCache[types.RepositorySnapshot]
}

// New creates an empty registry.
func New(strategy *cache.CachingStrategy, logger zerolog.Logger) (*Registry, error) {
	if strategy == nil {
		return nil, errors.New("caching strategy cannot be nil")
	}
	return &Registry{
		strategy: strategy,
		logger:   logger.With().Str("component", "Registry").Logger(),
		caches:   make(map[types.MetricType]managedCache),
		proxied:  make(map[types.MetricType]*cache.MetricCache[json.RawMessage]),
	}, nil
}

// RegisterProxied adds a cache whose value is served verbatim.
func (r *Registry) RegisterProxied(c collector.Collector[json.RawMessage], options ...cache.Option) error {
	mc, err := r.newCache(c, options)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.add(mc); err != nil {
		return err
	}
	r.proxied[mc.Type()] = mc
	return nil
}

// RegisterRepositories adds the repository cache used for pass-through and
// ranked views.
func (r *Registry) RegisterRepositories(c collector.Collector[types.RepositorySnapshot], options ...cache.Option) error {
	if c == nil {
		return errors.New("collector cannot be nil")
	}
	mc, err := cache.New(c, r.strategy, r.withLogger(options)...)
	if err != nil {
		return fmt.Errorf("creating %s cache: %w", c.Type(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.add(mc); err != nil {
		return err
	}
	r.repos = mc
	return nil
}

func (r *Registry) newCache(c collector.Collector[json.RawMessage], options []cache.Option) (*cache.MetricCache[json.RawMessage], error) {
	if c == nil {
		return nil, errors.New("collector cannot be nil")
	}
	mc, err := cache.New(c, r.strategy, r.withLogger(options)...)
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", c.Type(), err)
	}
	return mc, nil
}

// withLogger puts the registry logger first so callers can still override it.
func (r *Registry) withLogger(options []cache.Option) []cache.Option {
	return append([]cache.Option{cache.WithLogger(r.logger)}, options...)
}

func (r *Registry) add(mc managedCache) error {
	if _, ok := r.caches[mc.Type()]; ok {
		return fmt.Errorf("%s: %w", mc.Type(), ErrAlreadyRegistered)
	}
	r.caches[mc.Type()] = mc
	r.order = append(r.order, mc.Type())
	return nil
}

// Types returns the registered metric types in registration order.
func (r *Registry) Types() []types.MetricType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.MetricType(nil), r.order...)
}

// Initialize initializes every registered cache concurrently. The first
// failure is returned and cancels the remaining initial fetches.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.RLock()
	caches := make([]managedCache, 0, len(r.order))
	for _, t := range r.order {
		caches = append(caches, r.caches[t])
	}
	r.mu.RUnlock()

	if len(caches) == 0 {
		return errors.New("no caches registered")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range caches {
		g.Go(func() error {
			return c.Initialize(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info().Int("caches", len(caches)).Msg("All caches initialized.")
	return nil
}

// Lookup returns the current upstream payload for a metric type. For
// REPOSITORIES this is the raw repository list.
func (r *Registry) Lookup(t types.MetricType) (json.RawMessage, error) {
	r.mu.RLock()
	proxied, ok := r.proxied[t]
	repos := r.repos
	r.mu.RUnlock()

	if ok {
		metric, err := proxied.Get()
		if err != nil {
			return nil, err
		}
		return metric.Value, nil
	}
	if t == types.Repositories && repos != nil {
		metric, err := repos.Get()
		if err != nil {
			return nil, err
		}
		return metric.Value.Raw, nil
	}
	return nil, fmt.Errorf("%s: %w", t, ErrUnknownMetric)
}

// Repositories returns the current repository snapshot.
func (r *Registry) Repositories() (types.Metric[types.RepositorySnapshot], error) {
	r.mu.RLock()
	repos := r.repos
	r.mu.RUnlock()
	if repos == nil {
		return types.Metric[types.RepositorySnapshot]{}, fmt.Errorf("%s: %w", types.Repositories, ErrUnknownMetric)
	}
	return repos.Get()
}

// TopRepositories ranks the current repository snapshot.
func (r *Registry) TopRepositories(c ranking.Criterion, limit int) ([]ranking.Tuple, error) {
	metric, err := r.Repositories()
	if err != nil {
		return nil, err
	}
	return ranking.Rank(metric.Value.Repositories, c, limit), nil
}

// Refresh refreshes one cache immediately.
func (r *Registry) Refresh(ctx context.Context, t types.MetricType) error {
	r.mu.RLock()
	c, ok := r.caches[t]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", t, ErrUnknownMetric)
	}
	return c.Refresh(ctx)
}

// Status returns the stats of every cache in registration order.
func (r *Registry) Status() []cache.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := make([]cache.Stats, 0, len(r.order))
	for _, t := range r.order {
		status = append(status, r.caches[t].Stats())
	}
	return status
}

// Close closes every cache, collecting all errors.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs *multierror.Error
	for _, t := range r.order {
		if err := r.caches[t].Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing %s cache: %w", t, err))
		}
	}
	return errs.ErrorOrNil()
}
