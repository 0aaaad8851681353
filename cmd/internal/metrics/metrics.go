// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"batepapo/cmd/internal/chat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sweeps         *prometheus.CounterVec
	removed        prometheus.Counter
	noticeFailures prometheus.Counter
	sweepDuration  prometheus.Histogram
	liveClients    prometheus.Gauge
	liveDropped    prometheus.Counter
}

// New registers all collectors (plus Go and process collectors) on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sweeps_total",
			Help:      "Reaper sweeps by result (ok, error, skipped).",
		}, []string{"result"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_participants_removed_total",
			Help:      "Participants removed for inactivity.",
		}),
		noticeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_notice_failures_total",
			Help:      "Leave notices that could not be written.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Reaper sweep latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected live feed clients.",
		}),
		liveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_dropped_total",
			Help:      "Live events dropped because a client's send buffer was full.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.sweeps,
		m.removed,
		m.noticeFailures,
		m.sweepDuration,
		m.liveClients,
		m.liveDropped,
	)
	for _, result := range []string{"ok", "error", "skipped"} {
		m.sweeps.WithLabelValues(result)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveRequest records one finished HTTP request. route is the matched
// mux pattern, never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveSweep implements chat.SweepObserver.
func (m *Metrics) ObserveSweep(res chat.SweepResult, elapsed time.Duration, err error) {
	switch {
	case res.Skipped:
		m.sweeps.WithLabelValues("skipped").Inc()
		return
	case err != nil:
		m.sweeps.WithLabelValues("error").Inc()
	default:
		m.sweeps.WithLabelValues("ok").Inc()
	}
	m.removed.Add(float64(len(res.Removed)))
	m.noticeFailures.Add(float64(res.NoticeFailures))
	m.sweepDuration.Observe(elapsed.Seconds())
}

// ClientConnected and ClientDisconnected track live feed connections.
func (m *Metrics) ClientConnected()    { m.liveClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.liveClients.Dec() }

// EventDropped counts a live event that did not fit a client's buffer.
func (m *Metrics) EventDropped() { m.liveDropped.Inc() }

var _ chat.SweepObserver = (*Metrics)(nil)
