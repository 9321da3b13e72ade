package cache

import (
	"errors"
	"fmt"
	"time"
)

// CachingStrategy is the refresh configuration shared by all caches: how often
// to refresh, and which scheduler runs the refreshes. It is immutable.
type CachingStrategy struct {
	refreshPeriod time.Duration
	scheduler     Scheduler
}

// NewCachingStrategy creates a strategy. The period must be positive.
func NewCachingStrategy(refreshPeriod time.Duration, scheduler Scheduler) (*CachingStrategy, error) {
	if refreshPeriod <= 0 {
		return nil, fmt.Errorf("refresh period must be positive, got %s", refreshPeriod)
	}
	if scheduler == nil {
		return nil, errors.New("scheduler cannot be nil")
	}
	return &CachingStrategy{
		refreshPeriod: refreshPeriod,
		scheduler:     scheduler,
	}, nil
}

// RefreshPeriod returns the interval between scheduled refreshes.
func (s *CachingStrategy) RefreshPeriod() time.Duration {
	return s.refreshPeriod
}

// Scheduler returns the shared scheduler.
func (s *CachingStrategy) Scheduler() Scheduler {
	return s.scheduler
}
