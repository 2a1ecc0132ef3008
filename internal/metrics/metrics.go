// Package metrics exposes Prometheus collectors for the poll loop.
//
// All recording methods are safe on a nil *Metrics so callers that run
// without a status server need no guards.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "routerwatch"

// Metrics groups the collectors routerwatch records.
type Metrics struct {
	cycles        *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	devices       prometheus.Gauge
	stale         prometheus.Gauge
	routerUp      prometheus.Gauge
	logAlerts     prometheus.Counter
	deviceChanges *prometheus.CounterVec
	skippedRows   *prometheus.CounterVec
	sinkErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles run, by outcome.",
		}, []string{"result"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed router requests, by endpoint and failure kind.",
		}, []string{"endpoint", "kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one poll cycle including both fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_devices",
			Help:      "Dynamic, enabled ARP entries in the latest snapshot.",
		}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_snapshot_stale",
			Help:      "1 when the device list is from an earlier cycle.",
		}),
		routerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "router_up",
			Help:      "1 when the router answered the latest request.",
		}),
		logAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_alerts_total",
			Help:      "Novel alert-worthy log entries.",
		}),
		deviceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_changes_total",
			Help:      "Devices that joined or left the ARP table.",
		}, []string{"change"}),
		skippedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_rows_total",
			Help:      "Router rows dropped during decoding, by reason.",
		}, []string{"reason"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_sink_errors_total",
			Help:      "Failed alert deliveries, by sink.",
		}, []string{"sink"}),
	}
	reg.MustRegister(
		m.cycles, m.fetchErrors, m.cycleDuration, m.devices, m.stale,
		m.routerUp, m.logAlerts, m.deviceChanges, m.skippedRows, m.sinkErrors,
	)
	return m
}

// Handler serves the metrics gathered by g, or the default gatherer
// when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// CycleDone records one finished poll cycle.
func (m *Metrics) CycleDone(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "partial"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// FetchFailed counts a failed request.
func (m *Metrics) FetchFailed(endpoint, kind string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(endpoint, kind).Inc()
}

// SetDevices records the size and freshness of the device snapshot.
func (m *Metrics) SetDevices(n int, stale bool) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
	if stale {
		m.stale.Set(1)
	} else {
		m.stale.Set(0)
	}
}

// SetRouterUp records router reachability.
func (m *Metrics) SetRouterUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.routerUp.Set(1)
	} else {
		m.routerUp.Set(0)
	}
}

// LogAlerts counts novel log alerts.
func (m *Metrics) LogAlerts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.logAlerts.Add(float64(n))
}

// DeviceChanges counts joined and left devices.
func (m *Metrics) DeviceChanges(joined, left int) {
	if m == nil {
		return
	}
	if joined > 0 {
		m.deviceChanges.WithLabelValues("joined").Add(float64(joined))
	}
	if left > 0 {
		m.deviceChanges.WithLabelValues("left").Add(float64(left))
	}
}

// SkippedRows counts rows dropped for reason.
func (m *Metrics) SkippedRows(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skippedRows.WithLabelValues(reason).Add(float64(n))
}

// SinkFailed counts a failed alert delivery.
func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}
