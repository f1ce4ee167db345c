// Package metrics exports the runtime's commit/abort accounting as
// Prometheus counters.
//
// Collection is off by default and gated by a single atomic flag so the
// barrier hot paths pay one predictable branch when disabled.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

var (
	commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txmem",
			Name:      "commits_total",
			Help:      "Committed transactions by algorithm and mode (ro/rw).",
		},
		[]string{"algorithm", "mode"},
	)

	aborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txmem",
			Name:      "aborts_total",
			Help:      "Aborted transactions by algorithm and reason.",
		},
		[]string{"algorithm", "reason"},
	)

	switches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txmem",
			Name:      "algorithm_switches_total",
			Help:      "Completed quiescent algorithm switches.",
		},
	)
)

func init() {
	prometheus.MustRegister(commits, aborts, switches)
}

// Enable turns collection on.
func Enable() { enabled.Store(true) }

// Disable turns collection off.
func Disable() { enabled.Store(false) }

// Enabled reports whether collection is on.
//
//go:nosplit
func Enabled() bool { return enabled.Load() }

// IncCommit counts one committed transaction.
func IncCommit(algorithm, mode string) {
	if !enabled.Load() {
		return
	}
	commits.WithLabelValues(algorithm, mode).Inc()
}

// IncAbort counts one aborted transaction.
func IncAbort(algorithm, reason string) {
	if !enabled.Load() {
		return
	}
	aborts.WithLabelValues(algorithm, reason).Inc()
}

// IncSwitch counts one completed algorithm switch.
func IncSwitch() {
	if !enabled.Load() {
		return
	}
	switches.Inc()
}
