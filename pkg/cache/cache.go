// Package cache provides the scheduled read-through metric cache.
//
// A MetricCache holds exactly one value per metric type. The value is fetched
// synchronously by Initialize and afterwards replaced in the background on a
// fixed schedule. Readers load the current value through an atomically
// swapped pointer, so a read never waits for a refresh and never sees a
// partially built value. A failed refresh leaves the previous value in place.
package cache

import (
	"context"
	"io"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/scheduler"
	"github.com/illmade-knight/go-readcache/pkg/types"
)

// Scheduler registers recurring refresh work. It is satisfied by
// *scheduler.Scheduler.
type Scheduler interface {
	ScheduleAtFixedRate(name string, period time.Duration, task scheduler.Task, options ...scheduler.ScheduleOption) (scheduler.CancelFunc, error)
}

// SnapshotSink receives every successfully collected metric, after it has
// been installed in the cache. Sinks mirror cached values to external stores;
// their errors are logged and never affect what the cache serves.
type SnapshotSink[V any] interface {
	Store(ctx context.Context, metric types.Metric[V]) error
	io.Closer
}

// Outcome is the result of one refresh attempt.
type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// RefreshEvent describes one refresh attempt of one cache.
type RefreshEvent struct {
	Type     types.MetricType
	Outcome  Outcome
	Err      error
	Duration time.Duration
	At       time.Time
}

// Observer is notified of every refresh attempt, including the initial fetch.
// ObserveRefresh runs on the refreshing goroutine and must not block for long.
type Observer interface {
	ObserveRefresh(ctx context.Context, event RefreshEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event RefreshEvent)

func (f ObserverFunc) ObserveRefresh(ctx context.Context, event RefreshEvent) {
	f(ctx, event)
}
