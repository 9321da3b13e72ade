package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-readcache/pkg/types"
)

// InMemorySink keeps the last snapshot stored for each metric type.
// It is primarily intended for local development and testing.
type InMemorySink[V any] struct {
	mu     sync.RWMutex
	data   map[types.MetricType]types.Metric[V]
	writes int
}

// NewInMemorySink creates a new in-memory sink.
func NewInMemorySink[V any]() *InMemorySink[V] {
	return &InMemorySink[V]{
		data: make(map[types.MetricType]types.Metric[V]),
	}
}

// Store records the metric as the latest snapshot for its type.
func (s *InMemorySink[V]) Store(_ context.Context, metric types.Metric[V]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[metric.Type] = metric
	s.writes++
	return nil
}

// Fetch returns the latest snapshot stored for a metric type.
func (s *InMemorySink[V]) Fetch(_ context.Context, metricType types.MetricType) (types.Metric[V], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metric, ok := s.data[metricType]
	if !ok {
		return types.Metric[V]{}, fmt.Errorf("%s: %w", metricType, ErrSnapshotNotFound)
	}
	return metric, nil
}

// Writes returns the number of snapshots stored so far.
func (s *InMemorySink[V]) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close is a no-op for the in-memory implementation.
func (s *InMemorySink[V]) Close() error {
	return nil
}
