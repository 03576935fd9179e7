// Package dispatch provides the prometheus-backed implementation of
// dispatch.Metrics, following the same promauto.With(reg)-against-an-
// explicit-registry convention the teacher's pkg/metrics/prometheus
// package uses for its own counters and histograms.
package dispatch

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	coredispatch "github.com/protoproxy/dispatch/pkg/dispatch"
	"github.com/protoproxy/dispatch/pkg/frame"
)

// Metrics is the prometheus-backed dispatch.Metrics implementation.
type Metrics struct {
	hooksInvoked      *prometheus.CounterVec
	framesSuppressed  *prometheus.CounterVec
	framesReserialized *prometheus.CounterVec
	parseCacheHits    *prometheus.CounterVec
	parseCacheMisses  *prometheus.CounterVec
}

// New registers the dispatch metric families against reg and returns a
// ready-to-use Metrics. It registers unconditionally; serve calls it only
// when the config enables metrics, so an operator who never opts into
// metrics never pays for the registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		hooksInvoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "protoproxy_dispatch_hooks_invoked_total",
			Help: "Number of hook callbacks invoked, by namespace and opcode.",
		}, []string{"namespace", "opcode"}),
		framesSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "protoproxy_dispatch_frames_suppressed_total",
			Help: "Number of frames that ended an invocation silenced, by opcode.",
		}, []string{"opcode"}),
		framesReserialized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "protoproxy_dispatch_frames_reserialized_total",
			Help: "Number of times a structured hook's Commit triggered a re-serialize, by opcode.",
		}, []string{"opcode"}),
		parseCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "protoproxy_dispatch_parse_cache_hits_total",
			Help: "Number of times a per-invocation parsed-event cache was reused, by opcode.",
		}, []string{"opcode"}),
		parseCacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "protoproxy_dispatch_parse_cache_misses_total",
			Help: "Number of times a per-invocation parsed-event cache had to parse, by opcode.",
		}, []string{"opcode"}),
	}
}

func opcodeLabel(op frame.Opcode) string { return strconv.Itoa(int(op)) }

// HookInvoked implements dispatch.Metrics.
func (m *Metrics) HookInvoked(namespace string, op frame.Opcode) {
	m.hooksInvoked.WithLabelValues(namespace, opcodeLabel(op)).Inc()
}

// FrameSuppressed implements dispatch.Metrics.
func (m *Metrics) FrameSuppressed(op frame.Opcode) {
	m.framesSuppressed.WithLabelValues(opcodeLabel(op)).Inc()
}

// FrameReserialized implements dispatch.Metrics.
func (m *Metrics) FrameReserialized(op frame.Opcode) {
	m.framesReserialized.WithLabelValues(opcodeLabel(op)).Inc()
}

// ParseCacheHit implements dispatch.Metrics.
func (m *Metrics) ParseCacheHit(op frame.Opcode) {
	m.parseCacheHits.WithLabelValues(opcodeLabel(op)).Inc()
}

// ParseCacheMiss implements dispatch.Metrics.
func (m *Metrics) ParseCacheMiss(op frame.Opcode) {
	m.parseCacheMisses.WithLabelValues(opcodeLabel(op)).Inc()
}

var _ coredispatch.Metrics = (*Metrics)(nil)
