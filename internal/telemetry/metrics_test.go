package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInitMetrics(t *testing.T) {
	// InitMetrics uses sync.Once; repeated calls must not re-register.
	InitMetrics()
	InitMetrics()

	assert.True(t, IsMetricsRegistered())
	assert.NotNil(t, GetRequestsTotal())
	assert.NotNil(t, GetRevealsTotal())
	assert.NotNil(t, GetRotationsTotal())
	assert.NotNil(t, GetMeteredUsage())
}

func TestMetrics_RecordRequest(t *testing.T) {
	InitMetrics()

	m := NewMetrics()
	before := testutil.ToFloat64(GetRequestsTotal().WithLabelValues("test_list", "200"))
	m.RecordRequest("test_list", 200, 0.01)
	m.RecordRequest("test_list", 200, 0.02)

	assert.Equal(t, before+2, testutil.ToFloat64(GetRequestsTotal().WithLabelValues("test_list", "200")))
}

func TestMetrics_RecordReveal(t *testing.T) {
	InitMetrics()

	m := NewMetrics()
	before := testutil.ToFloat64(GetRevealsTotal().WithLabelValues("test-acme"))
	m.RecordReveal("test-acme")

	assert.Equal(t, before+1, testutil.ToFloat64(GetRevealsTotal().WithLabelValues("test-acme")))
}

func TestMetrics_RecordRotation(t *testing.T) {
	InitMetrics()

	m := NewMetrics()
	success := testutil.ToFloat64(GetRotationsTotal().WithLabelValues("success"))
	failure := testutil.ToFloat64(GetRotationsTotal().WithLabelValues("failure"))

	m.RecordRotation(true, 3)
	m.RecordRotation(false, 0)

	assert.Equal(t, success+1, testutil.ToFloat64(GetRotationsTotal().WithLabelValues("success")))
	assert.Equal(t, failure+1, testutil.ToFloat64(GetRotationsTotal().WithLabelValues("failure")))
}

func TestMetrics_SetMeteredUsage(t *testing.T) {
	InitMetrics()

	m := NewMetrics()
	m.SetMeteredUsage("test-whoisxml", 42)

	assert.Equal(t, 42.0, testutil.ToFloat64(GetMeteredUsage().WithLabelValues("test-whoisxml")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("list", 200, 0)
		m.RecordReveal("acme")
	})
}
