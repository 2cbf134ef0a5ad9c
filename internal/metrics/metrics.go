// Package metrics exposes registry activity as Prometheus collectors. A
// Metrics value is a registry.Recorder.
package metrics

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/owinhost/internal/registry"
)

const (
	namespace = "owinhost"
	subsystem = "registry"

	unknownApp = "unknown"
)

// Metrics records configuration and invocation counters.
type Metrics struct {
	mu sync.Mutex

	appsConfigured *prometheus.CounterVec
	invocations    *prometheus.CounterVec
	duration       *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// New creates the collectors. A nil registerer uses the default registry.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		appsConfigured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "apps_configured_total",
			Help:      "Applications configured, by configuration source.",
		}, []string{"source"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invocations_total",
			Help:      "Envelope invocations, by application and outcome.",
		}, []string{"app_id", "app", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invocation_duration_seconds",
			Help:      "Time from dispatch to normalized response.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"app_id", "app"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	var err error
	if m.appsConfigured, err = register(m.registerer, m.appsConfigured); err != nil {
		return err
	}
	if m.invocations, err = register(m.registerer, m.invocations); err != nil {
		return err
	}
	if m.duration, err = register(m.registerer, m.duration); err != nil {
		return err
	}
	m.registered = true
	return nil
}

// register adds c to r. When an identical collector is already registered,
// that one is returned so every Metrics value feeds the same series.
func register[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	err := r.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// RecordConfigured implements registry.Recorder.
func (m *Metrics) RecordConfigured(info registry.AppInfo) {
	m.appsConfigured.WithLabelValues(string(info.Source)).Inc()
}

// RecordInvocation implements registry.Recorder.
func (m *Metrics) RecordInvocation(inv registry.Invocation) {
	id, name := unknownApp, inv.AppName
	if inv.AppID >= 0 {
		id = strconv.Itoa(inv.AppID)
	}
	if name == "" {
		name = unknownApp
	}
	m.invocations.WithLabelValues(id, name, string(inv.Outcome)).Inc()
	if inv.Outcome != registry.OutcomeRejected {
		m.duration.WithLabelValues(id, name).Observe(inv.Duration.Seconds())
	}
}
