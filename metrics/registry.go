// Package metrics exports journal metrics to Prometheus.
//
// Metrics are off until InitRegistry is called; constructors return nil
// when they are off, and the journal treats a nil Metrics as "don't
// collect".
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	// journal is registered on registry at most once
	journal *journalMetrics
)

// InitRegistry enables metrics with a fresh registry and returns it.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	registry = prometheus.NewRegistry()
	journal = nil
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the active registry, or nil.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Disable drops the registry; later constructors return nil.
func Disable() {
	mu.Lock()
	registry = nil
	journal = nil
	mu.Unlock()
}
