// Package metrics exports Prometheus counters for fetching and furnishing.
//
// All methods are safe on a nil *Metrics, so components can take metrics
// as an optional dependency without guarding every call.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "furnish"

// Lookup sources recorded by RecordLookup.
const (
	LookupHit      = "hit"      // file already marked local
	LookupSearch   = "search"   // found in a search root or the download root
	LookupDownload = "download" // fetched from the remote source
)

// Metrics holds the registered collectors.
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration prometheus.Histogram
	lookups       *prometheus.CounterVec
	toolkitOps    *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	resolve       prometheus.Histogram
}

// New registers the collectors on reg. A nil reg uses the default
// registerer. Collectors already registered under the same name are
// reused, so constructing Metrics twice against one registry is safe.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}
	var err error
	if m.fetches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Remote kernel downloads by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.fetchBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetched_bytes_total",
		Help:      "Bytes written by successful kernel downloads.",
	})); err != nil {
		return nil, err
	}
	if m.fetchDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Latency of kernel downloads including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
	})); err != nil {
		return nil, err
	}
	if m.lookups, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Local availability checks by where the file was found.",
	}, []string{"source"})); err != nil {
		return nil, err
	}
	if m.toolkitOps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "toolkit_operations_total",
		Help:      "Load and unload calls issued to the toolkit.",
	}, []string{"op", "result"})); err != nil {
		return nil, err
	}
	if m.transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Furnish transitions by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.resolve, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolve_duration_seconds",
		Help:      "Time spent resolving a recipe into files.",
		Buckets:   prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is New that panics on registration conflicts.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(DefaultNamespace, reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// RecordFetch tracks one download attempt sequence.
func (m *Metrics) RecordFetch(d time.Duration, bytes int64, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
	if err != nil {
		m.fetches.WithLabelValues("error").Inc()
		return
	}
	m.fetches.WithLabelValues("ok").Inc()
	m.fetchBytes.Add(float64(bytes))
}

// RecordLookup tracks where EnsureLocal found a file.
func (m *Metrics) RecordLookup(source string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(source).Inc()
}

// RecordToolkitOp tracks a load or unload call.
func (m *Metrics) RecordToolkitOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.toolkitOps.WithLabelValues(op, result).Inc()
}

// RecordTransition tracks the outcome of a furnish call.
func (m *Metrics) RecordTransition(outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(outcome).Inc()
}

// ObserveResolve tracks resolution latency.
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.resolve.Observe(d.Seconds())
}
