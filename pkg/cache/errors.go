package cache

import (
	"errors"
	"fmt"

	"github.com/illmade-knight/go-readcache/pkg/types"
)

var (
	// ErrNotInitialized is returned by reads before Initialize has succeeded.
	ErrNotInitialized = errors.New("cache not initialized")
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("cache already initialized")
	// ErrRefreshInProgress is returned when a refresh is requested while
	// another refresh of the same cache is running. The request is dropped.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrClosed is returned after the cache has been closed.
	ErrClosed = errors.New("cache closed")
	// ErrSnapshotNotFound is returned by sinks that hold no snapshot for a type.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// InitializationError reports that the first fetch for a metric failed, or
// that its refresh could not be scheduled. The cache stays unusable until
// Initialize is called again and succeeds.
type InitializationError struct {
	Type types.MetricType
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initializing %s cache: %v", e.Type, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}
