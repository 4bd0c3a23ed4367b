package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink maps the known metric names onto Prometheus collectors held in
// a private registry. Unknown names are dropped.
type PrometheusSink struct {
	registry *prometheus.Registry

	operations            *prometheus.CounterVec
	operationDuration     *prometheus.HistogramVec
	persistenceErrors     *prometheus.CounterVec
	auditErrors           *prometheus.CounterVec
	impersonationActive   prometheus.Gauge
	impersonationDuration *prometheus.HistogramVec
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink registers the auth collectors plus Go/process collectors.
func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolefusion_auth_operations_total",
			Help: "Auth state-machine operations by operation, result and rejection reason.",
		}, []string{"operation", "result", "reason", "error_class"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolefusion_auth_operation_duration_seconds",
			Help:    "Duration of auth operations in seconds.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		persistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolefusion_auth_persistence_errors_total",
			Help: "Storage failures swallowed by the auth state machine.",
		}, []string{"op", "error_class"}),
		auditErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolefusion_auth_audit_errors_total",
			Help: "Impersonation audit entries that could not be written.",
		}, []string{"action"}),
		impersonationActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rolefusion_auth_impersonation_active",
			Help: "1 while an impersonation session is active.",
		}),
		impersonationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolefusion_auth_impersonation_duration_seconds",
			Help:    "Length of ended impersonation sessions in seconds.",
			Buckets: []float64{10, 60, 300, 600, 1200, 1800, 2700, 3600, 7200},
		}, []string{"reason"}),
	}
	s.registry.MustRegister(
		s.operations,
		s.operationDuration,
		s.persistenceErrors,
		s.auditErrors,
		s.impersonationActive,
		s.impersonationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Registry exposes the underlying registry, mainly for tests.
func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *PrometheusSink) Count(name string, value int64, tags map[string]string) {
	switch name {
	case NameOperation:
		s.operations.WithLabelValues(tags["operation"], tags["result"], tags["reason"], tags["error_class"]).Add(float64(value))
	case NamePersistenceError:
		s.persistenceErrors.WithLabelValues(tags["op"], tags["error_class"]).Add(float64(value))
	case NameAuditError:
		s.auditErrors.WithLabelValues(tags["action"]).Add(float64(value))
	}
}

func (s *PrometheusSink) Gauge(name string, value float64, _ map[string]string) {
	if name == NameImpersonationActive {
		s.impersonationActive.Set(value)
	}
}

func (s *PrometheusSink) Timing(name string, value time.Duration, tags map[string]string) {
	switch name {
	case NameOperationDuration:
		s.operationDuration.WithLabelValues(tags["operation"]).Observe(value.Seconds())
	case NameImpersonationDuration:
		s.impersonationDuration.WithLabelValues(tags["reason"]).Observe(value.Seconds())
	}
}
