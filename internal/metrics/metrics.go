// Package metrics exposes Prometheus instrumentation for the coordinator.
//
// A Recorder owns its own registry so several can coexist in one process
// (tests, embedded hosts). All Recorder methods are safe on a nil receiver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datasources"

// Bind kinds used as the "kind" label.
const (
	KindProvider = "provider"
	KindNaming   = "naming"
	KindConfig   = "config"
)

// Bind operations used as the "op" label.
const (
	OpBind   = "bind"
	OpUnbind = "unbind"
	OpStale  = "stale_unbind"
	OpLate   = "late_bind"
)

// Recorder holds the coordinator's collectors.
type Recorder struct {
	registry *prometheus.Registry

	binds         *prometheus.CounterVec
	providers     prometheus.Gauge
	gateState     *prometheus.GaugeVec
	initDuration  *prometheus.HistogramVec
	published     prometheus.Gauge
	publishErrors prometheus.Counter
	deferredFires prometheus.Counter
	ignoredFires  prometheus.Counter
	dataSources   prometheus.Gauge
	eventsDropped prometheus.Counter
}

// NewRecorder creates and registers all collectors on a fresh registry,
// including the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "binds_total",
			Help:      "Bind and unbind events observed by the coordinator.",
		}, []string{"kind", "op"}),
		providers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "registered_providers",
			Help:      "Providers currently held in the capability registry.",
		}),
		gateState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "state",
			Help:      "Readiness gate state; the current state is 1, all others 0.",
		}, []string{"state"}),
		initDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "initialization_duration_seconds",
			Help:      "Duration of the downstream initialization routine.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		published: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "published_services",
			Help:      "Services currently published to the service directory.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "publish_failures_total",
			Help:      "Service publications that failed after a successful initialization.",
		}),
		deferredFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "deferred_fires_total",
			Help:      "Readiness triggers deferred because a mandatory dependency was missing.",
		}),
		ignoredFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "ignored_fires_total",
			Help:      "Duplicate readiness triggers.",
		}),
		dataSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "datasource",
			Name:      "active",
			Help:      "Data sources held by the data-source repository.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Lifecycle events dropped because a subscriber was slow.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.binds,
		r.providers,
		r.gateState,
		r.initDuration,
		r.published,
		r.publishErrors,
		r.deferredFires,
		r.ignoredFires,
		r.dataSources,
		r.eventsDropped,
	)
	return r
}

// Registry returns the underlying registry, for tests and custom exposition.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveBind counts one bind-side event.
func (r *Recorder) ObserveBind(kind, op string) {
	if r == nil {
		return
	}
	r.binds.WithLabelValues(kind, op).Inc()
}

// SetProviders records the registry size.
func (r *Recorder) SetProviders(n int) {
	if r == nil {
		return
	}
	r.providers.Set(float64(n))
}

// SetGateState marks state as the current gate state among all.
func (r *Recorder) SetGateState(state string, all []string) {
	if r == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		r.gateState.WithLabelValues(s).Set(v)
	}
}

// ObserveInitialization records the initializer's duration and outcome
// ("success" or "failure").
func (r *Recorder) ObserveInitialization(d time.Duration, outcome string) {
	if r == nil {
		return
	}
	r.initDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddPublished adjusts the published-services gauge by delta.
func (r *Recorder) AddPublished(delta int) {
	if r == nil {
		return
	}
	r.published.Add(float64(delta))
}

// IncPublishFailure counts a failed publication.
func (r *Recorder) IncPublishFailure() {
	if r == nil {
		return
	}
	r.publishErrors.Inc()
}

// IncDeferred counts a deferred readiness trigger.
func (r *Recorder) IncDeferred() {
	if r == nil {
		return
	}
	r.deferredFires.Inc()
}

// IncIgnored counts a duplicate readiness trigger.
func (r *Recorder) IncIgnored() {
	if r == nil {
		return
	}
	r.ignoredFires.Inc()
}

// SetDataSources records the repository size.
func (r *Recorder) SetDataSources(n int) {
	if r == nil {
		return
	}
	r.dataSources.Set(float64(n))
}

// AddDropped counts dropped lifecycle events.
func (r *Recorder) AddDropped(n uint64) {
	if r == nil || n == 0 {
		return
	}
	r.eventsDropped.Add(float64(n))
}
