// Package metrics holds the Prometheus collectors of a node. Collectors
// are registered on a per-node registry so several nodes can share a
// process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hive"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	backupStates    *prometheus.CounterVec
	objectOps       *prometheus.CounterVec
	vaultsActive    prometheus.GaugeFunc
	workerTasksDone *prometheus.CounterVec
}

// New registers every collector on a fresh registry. activeVaults, when
// set, backs the hive_vaults_active gauge.
func New(activeVaults func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		backupStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "transitions_total",
			Help:      "Backup state transitions by executor role, action and state.",
		}, []string{"role", "action", "state"}),
		objectOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "object",
			Name:      "operations_total",
			Help:      "Object network operations by kind and result.",
		}, []string{"op", "result"}),
		workerTasksDone: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Background tasks by name and result.",
		}, []string{"task", "result"}),
	}
	if activeVaults != nil {
		m.vaultsActive = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vaults_active",
			Help:      "Vaults that are not removed.",
		}, activeVaults)
	}
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest records one finished HTTP request. route is the matched
// pattern, not the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// BackupTransition matches backup.Observer.
func (m *Metrics) BackupTransition(role, action, state string) {
	m.backupStates.WithLabelValues(role, action, state).Inc()
}

// ObjectOperation matches objectstore.Observer.
func (m *Metrics) ObjectOperation(op string, err error) {
	m.objectOps.WithLabelValues(op, result(err)).Inc()
}

// WorkerTask matches worker.Observer.
func (m *Metrics) WorkerTask(task string, err error) {
	m.workerTasksDone.WithLabelValues(task, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
