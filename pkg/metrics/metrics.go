// Package metrics records whether metrics collection was turned on and
// holds the prometheus registry it uses. An operator who never opts in
// (via config) pays nothing: serve calls InitRegistry and constructs the
// dispatch collectors only when the config enables metrics. The shape
// mirrors the pattern the teacher's own metrics sub-packages assume but
// never define in one place — reconstructed here from that usage (see
// DESIGN.md).
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabled  atomic.Bool
	regMu    sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and installs reg as the
// registry every constructor in this repository registers against. Safe
// to call once, at startup, before any connection begins dispatching.
func InitRegistry(reg *prometheus.Registry) {
	regMu.Lock()
	registry = reg
	regMu.Unlock()
	enabled.Store(true)
}

// IsEnabled reports whether metrics collection has been initialized.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the registry installed by InitRegistry, or nil if
// metrics were never enabled.
func GetRegistry() *prometheus.Registry {
	regMu.RLock()
	defer regMu.RUnlock()
	return registry
}
