package prometheus

import (
	"testing"
	"time"

	"github.com/marmos91/cifscore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCIFSMetricsDisabled(t *testing.T) {
	metrics.ResetRegistry()
	assert.Nil(t, NewCIFSMetrics())
	assert.Nil(t, metrics.NewCIFSMetrics())
}

func TestCIFSMetricsRecording(t *testing.T) {
	metrics.ResetRegistry()
	metrics.InitRegistry()
	t.Cleanup(metrics.ResetRegistry)

	m := metrics.NewCIFSMetrics()
	require.NotNil(t, m, "init() must register the constructor")
	cm := m.(*cifsMetrics)

	m.ObserveRequest("ECHO", "ok", 3*time.Millisecond)
	m.ObserveRequest("ECHO", "ok", time.Millisecond)
	m.ObserveRequest("ECHO", "timeout", time.Second)
	assert.Equal(t, 2.0, testutil.ToFloat64(cm.requests.WithLabelValues("ECHO", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.requests.WithLabelValues("ECHO", "timeout")))

	m.AddInFlight(3)
	m.AddInFlight(-1)
	assert.Equal(t, 2.0, testutil.ToFloat64(cm.inFlight))

	m.RecordReconnect(true)
	m.RecordReconnect(false)
	m.RecordReconnect(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(cm.reconnects.WithLabelValues("failure")))

	m.RecordSignatureFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.signatureFailures))

	m.SetActive("trees", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(cm.active.WithLabelValues("trees")))
}

func TestNilReceiver(t *testing.T) {
	var m *cifsMetrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("ECHO", "ok", time.Millisecond)
		m.AddInFlight(1)
		m.RecordReconnect(true)
		m.RecordSignatureFailure()
		m.SetActive("trees", 1)
	})
}

func TestNilSafeHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.ObserveRequest(nil, "ECHO", "ok", 0)
		metrics.AddInFlight(nil, 1)
		metrics.RecordReconnect(nil, false)
		metrics.RecordSignatureFailure(nil)
		metrics.SetActive(nil, "trees", 0)
	})
}
