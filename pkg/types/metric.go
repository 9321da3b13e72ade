// Package types holds the data shapes shared by collectors, caches and the
// HTTP layer.
package types

import (
	"fmt"
	"strings"
	"time"
)

// MetricType identifies which logical metric a cache and collector pair serves.
type MetricType string

const (
	Overview     MetricType = "OVERVIEW"
	Organization MetricType = "ORGANIZATION"
	Members      MetricType = "MEMBERS"
	Repositories MetricType = "REPOSITORIES"
)

// AllMetricTypes returns every known metric type in a fixed order.
func AllMetricTypes() []MetricType {
	return []MetricType{Overview, Organization, Members, Repositories}
}

// ParseMetricType converts a case-insensitive name into a MetricType.
func ParseMetricType(s string) (MetricType, error) {
	mt := MetricType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllMetricTypes() {
		if mt == known {
			return mt, nil
		}
	}
	return "", fmt.Errorf("unknown metric type %q", s)
}

func (t MetricType) String() string {
	return string(t)
}

// Metric is a collected value wrapped with the type it was collected for.
// A Metric handed out by a cache is shared with other readers and must not be
// modified.
type Metric[V any] struct {
	Type        MetricType `json:"type"`
	Value       V          `json:"value"`
	CollectedAt time.Time  `json:"collectedAt"`
}
