package cache

import (
	"sync"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/types"
)

// Stats summarizes the refresh history of one cache.
type Stats struct {
	Type        types.MetricType `json:"type"`
	Initialized bool             `json:"initialized"`
	Refreshing  bool             `json:"refreshing"`
	Refreshed   uint64           `json:"refreshed"`
	Failed      uint64           `json:"failed"`
	Skipped     uint64           `json:"skipped"`
	LastSuccess time.Time        `json:"lastSuccess,omitzero"`
	LastError   string           `json:"lastError,omitempty"`
	LastErrorAt time.Time        `json:"lastErrorAt,omitzero"`
}

// stats is written by refreshes and read by status reporting, never on the
// Get path.
type stats struct {
	mu sync.Mutex
	s  Stats

	metricType types.MetricType
}

func (st *stats) refreshed(at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Refreshed++
	st.s.LastSuccess = at
}

func (st *stats) failed(err error, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Failed++
	st.s.LastError = err.Error()
	st.s.LastErrorAt = at
}

func (st *stats) skipped() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Skipped++
}

func (st *stats) snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.s
	s.Type = st.metricType
	return s
}
