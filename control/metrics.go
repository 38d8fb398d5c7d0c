// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector. Schedulers and IO managers publish their
// counters here under a name prefix.

package control

import (
	"maps"
	"sync"
	"time"
)

// MetricsRegistry holds the latest value of every published metric.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

var defaultMetrics = NewMetricsRegistry()

// Metrics returns the process-wide registry.
func Metrics() *MetricsRegistry { return defaultMetrics }

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Publish stores every counter of stats as "<prefix>.<name>".
func (mr *MetricsRegistry) Publish(prefix string, stats map[string]int64) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	for k, v := range stats {
		mr.metrics[prefix+"."+k] = v
	}
	mr.updated = time.Now()
}

// Updated returns the time of the last write.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return maps.Clone(mr.metrics)
}
