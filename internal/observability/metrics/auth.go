// Package metrics emits auth state-machine metrics through a tag-based Sink.
//
// Metric naming follows Prometheus conventions when served by PrometheusSink:
//   - rolefusion_ prefix for all metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	obserrors "github.com/target/rolefusion/internal/observability/errors"
)

// Sink describes the minimal interface required to emit tagged metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Metric names understood by PrometheusSink.
const (
	NameOperation             = "auth.operation"
	NameOperationDuration     = "auth.operation.duration"
	NamePersistenceError      = "auth.persistence_error"
	NameImpersonationActive   = "auth.impersonation.active"
	NameImpersonationDuration = "auth.impersonation.duration"
	NameAuditError            = "auth.audit_error"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Operation names.
const (
	OpLogin              = "login"
	OpLogout             = "logout"
	OpRefresh            = "refresh"
	OpRestore            = "restore"
	OpStartImpersonation = "start_impersonation"
	OpStopImpersonation  = "stop_impersonation"
	OpExpireImpersonation = "expire_impersonation"
)

// AuthMetric captures the outcome of one state-machine operation.
type AuthMetric struct {
	Operation string
	Result    string
	// Reason is the rejection reason for denied operations.
	Reason   string
	Duration time.Duration
	Err      error
}

// EmitAuthOperation emits standardised operation metrics.
func EmitAuthOperation(sink Sink, in AuthMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"operation": in.Operation,
		"result":    in.Result,
		"reason":    in.Reason,
	}
	if in.Err != nil && in.Result != ResultSuccess {
		tags["error_class"] = obserrors.Classify(in.Err)
	}
	sink.Count(NameOperation, 1, tags)

	if in.Duration > 0 {
		sink.Timing(NameOperationDuration, in.Duration, map[string]string{"operation": in.Operation})
	}
}

// EmitPersistenceError counts a swallowed storage failure.
func EmitPersistenceError(sink Sink, op string, err error) {
	if sink == nil {
		return
	}
	sink.Count(NamePersistenceError, 1, map[string]string{"op": op, "error_class": obserrors.Classify(err)})
}

// EmitAuditError counts an audit sink failure.
func EmitAuditError(sink Sink, action string) {
	if sink == nil {
		return
	}
	sink.Count(NameAuditError, 1, map[string]string{"action": action})
}

// EmitImpersonationEnded records how long a session lasted and why it ended.
func EmitImpersonationEnded(sink Sink, reason string, d time.Duration) {
	if sink == nil {
		return
	}
	sink.Timing(NameImpersonationDuration, d, map[string]string{"reason": reason})
}

// SetImpersonationActive reports whether the process is currently impersonating.
func SetImpersonationActive(sink Sink, active bool) {
	if sink == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	sink.Gauge(NameImpersonationActive, v, nil)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Count(string, int64, map[string]string)          {}
func (NopSink) Gauge(string, float64, map[string]string)        {}
func (NopSink) Timing(string, time.Duration, map[string]string) {}
