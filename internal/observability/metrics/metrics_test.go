package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/target/rolefusion/internal/errors"
)

type recordingSink struct {
	counts  []map[string]string
	names   []string
	timings []string
	gauges  []float64
}

func (r *recordingSink) Count(name string, _ int64, tags map[string]string) {
	r.names = append(r.names, name)
	r.counts = append(r.counts, tags)
}
func (r *recordingSink) Gauge(_ string, v float64, _ map[string]string) { r.gauges = append(r.gauges, v) }
func (r *recordingSink) Timing(name string, _ time.Duration, _ map[string]string) {
	r.timings = append(r.timings, name)
}

func TestEmitAuthOperation(t *testing.T) {
	sink := &recordingSink{}
	EmitAuthOperation(sink, AuthMetric{
		Operation: OpStartImpersonation,
		Result:    ResultDenied,
		Reason:    apperrors.ReasonNotAdmin,
		Duration:  time.Millisecond,
		Err:       apperrors.Authorization(apperrors.ReasonNotAdmin, "denied"),
	})

	require.Len(t, sink.counts, 1)
	assert.Equal(t, NameOperation, sink.names[0])
	assert.Equal(t, "denied", sink.counts[0]["result"])
	assert.Equal(t, "authorization", sink.counts[0]["error_class"])
	assert.Equal(t, []string{NameOperationDuration}, sink.timings)
}

func TestEmit_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitAuthOperation(nil, AuthMetric{})
		EmitPersistenceError(nil, "save", errors.New("x"))
		EmitAuditError(nil, "start")
		EmitImpersonationEnded(nil, "stop", time.Second)
		SetImpersonationActive(nil, true)
	})
}

func TestPrometheusSink(t *testing.T) {
	sink := NewPrometheusSink()

	EmitAuthOperation(sink, AuthMetric{Operation: OpLogin, Result: ResultSuccess, Duration: 2 * time.Millisecond})
	EmitAuthOperation(sink, AuthMetric{Operation: OpLogin, Result: ResultSuccess})
	EmitPersistenceError(sink, "save", errors.New("disk"))
	EmitAuditError(sink, "start_impersonation")
	SetImpersonationActive(sink, true)
	EmitImpersonationEnded(sink, "expired", 61*time.Minute)
	sink.Count("unknown.metric", 1, nil)

	assert.InDelta(t, 2, testutil.ToFloat64(sink.operations.WithLabelValues(OpLogin, ResultSuccess, "", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.persistenceErrors.WithLabelValues("save", "errors_errorstring")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.auditErrors.WithLabelValues("start_impersonation")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.impersonationActive), 0)

	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "rolefusion_auth_impersonation_duration_seconds_count"))
}
