package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/collector"
	"github.com/illmade-knight/go-readcache/pkg/scheduler"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// MetricCache holds the last successfully collected value of one metric.
type MetricCache[V any] struct {
	metricType  types.MetricType
	collector   collector.Collector[V]
	strategy    *CachingStrategy
	logger      zerolog.Logger
	observers   []Observer
	sinks       []SnapshotSink[V]
	sinkTimeout time.Duration
	clock       clockwork.Clock

	current    atomic.Pointer[types.Metric[V]]
	refreshing atomic.Bool
	closed     atomic.Bool

	initMu sync.Mutex
	cancel scheduler.CancelFunc

	stats stats
}

// New creates an uninitialized cache for the collector's metric type.
func New[V any](c collector.Collector[V], strategy *CachingStrategy, options ...Option) (*MetricCache[V], error) {
	if c == nil {
		return nil, errors.New("collector cannot be nil")
	}
	if strategy == nil {
		return nil, errors.New("caching strategy cannot be nil")
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	sinks := make([]SnapshotSink[V], 0, len(opts.sinks))
	for _, s := range opts.sinks {
		sink, ok := s.(SnapshotSink[V])
		if !ok {
			return nil, fmt.Errorf("sink %T does not accept %s values", s, c.Type())
		}
		sinks = append(sinks, sink)
	}

	return &MetricCache[V]{
		metricType:  c.Type(),
		collector:   c,
		strategy:    strategy,
		logger:      opts.logger.With().Str("component", "MetricCache").Str("metric_type", c.Type().String()).Logger(),
		observers:   opts.observers,
		sinks:       sinks,
		sinkTimeout: opts.sinkTimeout,
		clock:       opts.clock,
		stats:       stats{metricType: c.Type()},
	}, nil
}

// Type returns the metric type served by this cache.
func (c *MetricCache[V]) Type() types.MetricType {
	return c.metricType
}

// Initialize fetches the first value synchronously and then schedules
// recurring refreshes. A failure is returned as *InitializationError; the
// cache does not retry on its own. Calling Initialize after it has succeeded
// returns ErrAlreadyInitialized.
func (c *MetricCache[V]) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.current.Load() != nil {
		return ErrAlreadyInitialized
	}

	start := c.clock.Now()
	metric, err := c.collector.Collect(ctx)
	if err != nil {
		c.stats.failed(err, c.clock.Now())
		c.observe(ctx, OutcomeFailed, err, start)
		c.logger.Error().Err(err).Msg("Initial collection failed.")
		return &InitializationError{Type: c.metricType, Err: err}
	}

	// Publish only after scheduling succeeds. The first tick is a full
	// period away.
	period := c.strategy.RefreshPeriod()
	cancel, err := c.strategy.Scheduler().ScheduleAtFixedRate(c.metricType.String(), period, c.tick,
		scheduler.OnSkip(c.skippedTick))
	if err != nil {
		c.logger.Error().Err(err).Msg("Could not schedule refresh.")
		return &InitializationError{Type: c.metricType, Err: fmt.Errorf("scheduling refresh: %w", err)}
	}
	c.cancel = cancel
	c.current.Store(&metric)

	c.stats.refreshed(metric.CollectedAt)
	c.store(ctx, metric)
	c.observe(ctx, OutcomeRefreshed, nil, start)
	c.logger.Info().Dur("refresh_period", period).Msg("Cache initialized.")
	return nil
}

// Get returns the most recently collected value. It never calls the
// collector and never waits for a refresh in progress. The returned value is
// shared and must not be modified.
func (c *MetricCache[V]) Get() (types.Metric[V], error) {
	p := c.current.Load()
	if p == nil {
		return types.Metric[V]{}, ErrNotInitialized
	}
	return *p, nil
}

// Refresh collects a new value and installs it. It is what each scheduled
// tick runs, and may also be called directly.
//
// At most one refresh runs at a time: if one is already running, Refresh
// returns ErrRefreshInProgress immediately instead of waiting. If collection
// fails the *collector.CollectionError is returned and the current value is
// kept.
func (c *MetricCache[V]) Refresh(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.current.Load() == nil {
		return ErrNotInitialized
	}
	start := c.clock.Now()
	if !c.refreshing.CompareAndSwap(false, true) {
		c.stats.skipped()
		c.observe(ctx, OutcomeSkipped, ErrRefreshInProgress, start)
		return ErrRefreshInProgress
	}
	defer c.refreshing.Store(false)

	metric, err := c.collector.Collect(ctx)
	if err != nil {
		c.stats.failed(err, c.clock.Now())
		c.observe(ctx, OutcomeFailed, err, start)
		return err
	}
	c.current.Store(&metric)

	c.stats.refreshed(metric.CollectedAt)
	c.store(ctx, metric)
	c.observe(ctx, OutcomeRefreshed, nil, start)
	return nil
}

// Stats returns refresh counters for this cache.
func (c *MetricCache[V]) Stats() Stats {
	s := c.stats.snapshot()
	s.Initialized = c.current.Load() != nil
	s.Refreshing = c.refreshing.Load()
	return s
}

// Close stops scheduled refreshes. The last value remains readable. Sinks
// are owned by the caller and are not closed.
func (c *MetricCache[V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.logger.Info().Msg("Cache closed.")
	return nil
}

// tick is the scheduled refresh. Errors stop here.
func (c *MetricCache[V]) tick(ctx context.Context) {
	err := c.Refresh(ctx)
	switch {
	case err == nil:
		c.logger.Debug().Msg("Cache refreshed.")
	case errors.Is(err, ErrRefreshInProgress):
		c.logger.Warn().Msg("Previous refresh still running, skipping this one.")
	case errors.Is(err, ErrClosed):
	default:
		c.logger.Error().Err(err).Msg("Refresh failed, serving previous value.")
	}
}

// skippedTick records a tick the scheduler dropped because the previous
// refresh of this cache was still queued or running.
func (c *MetricCache[V]) skippedTick(due time.Time) {
	if c.closed.Load() {
		return
	}
	c.stats.skipped()
	c.observe(context.Background(), OutcomeSkipped, ErrRefreshInProgress, due)
	c.logger.Warn().Time("due", due).Msg("Previous refresh still running, skipping this one.")
}

func (c *MetricCache[V]) store(ctx context.Context, metric types.Metric[V]) {
	for _, sink := range c.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, c.sinkTimeout)
		if err := sink.Store(sinkCtx, metric); err != nil {
			c.logger.Warn().Err(err).Str("sink", fmt.Sprintf("%T", sink)).Msg("Failed to store snapshot in sink.")
		}
		cancel()
	}
}

func (c *MetricCache[V]) observe(ctx context.Context, outcome Outcome, err error, start time.Time) {
	if len(c.observers) == 0 {
		return
	}
	event := RefreshEvent{
		Type:     c.metricType,
		Outcome:  outcome,
		Err:      err,
		Duration: c.clock.Since(start),
		At:       start,
	}
	for _, o := range c.observers {
		o.ObserveRefresh(ctx, event)
	}
}
