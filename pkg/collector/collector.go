// Package collector defines how a single metric value is fetched from an
// upstream source. Collectors carry no caching concerns: they are invoked by a
// cache on initialization and on every scheduled refresh.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/jonboulle/clockwork"
)

// Collector produces the current value of one logical metric.
type Collector[V any] interface {
	// Type returns the metric type this collector serves.
	Type() types.MetricType
	// Collect calls the upstream source once. Any failure is reported as a
	// *CollectionError.
	Collect(ctx context.Context) (types.Metric[V], error)
}

// Func fetches a raw value from an upstream source.
type Func[V any] func(ctx context.Context) (V, error)

// CollectionError reports a failed upstream call, a timeout, or a payload
// that could not be decoded.
type CollectionError struct {
	Type types.MetricType
	Err  error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collecting %s: %v", e.Type, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the collection failed because its deadline passed.
func (e *CollectionError) IsTimeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

type funcCollector[V any] struct {
	metricType types.MetricType
	fetch      Func[V]
	timeout    time.Duration
	clock      clockwork.Clock
}

// New binds a metric type to a fetch function.
func New[V any](metricType types.MetricType, fetch Func[V], options ...Option) (Collector[V], error) {
	if metricType == "" {
		return nil, errors.New("metric type cannot be empty")
	}
	if fetch == nil {
		return nil, fmt.Errorf("fetch function for %s cannot be nil", metricType)
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	return &funcCollector[V]{
		metricType: metricType,
		fetch:      fetch,
		timeout:    opts.timeout,
		clock:      opts.clock,
	}, nil
}

func (c *funcCollector[V]) Type() types.MetricType {
	return c.metricType
}

func (c *funcCollector[V]) Collect(ctx context.Context) (types.Metric[V], error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	value, err := c.fetch(ctx)
	if err != nil {
		// A fetch that ignores its context may return a generic error after
		// the deadline; report it as the timeout it is.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return types.Metric[V]{}, &CollectionError{Type: c.metricType, Err: err}
	}
	return types.Metric[V]{
		Type:        c.metricType,
		Value:       value,
		CollectedAt: c.clock.Now().UTC(),
	}, nil
}
