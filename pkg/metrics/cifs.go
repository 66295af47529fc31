package metrics

import "time"

// CIFSMetrics provides observability for the CIFS client core.
//
// Pass nil wherever a CIFSMetrics is accepted to disable collection; the
// package-level helpers below are nil-safe.
type CIFSMetrics interface {
	// ObserveRequest records a completed request/response exchange.
	//
	// Parameters:
	//   - command: SMB command name (e.g. "ECHO", "TREE_CONNECT_ANDX")
	//   - outcome: "ok", an NT status name, "timeout", "lost" or "interrupted"
	//   - duration: time from send to response delivery
	ObserveRequest(command string, outcome string, duration time.Duration)

	// AddInFlight adjusts the number of requests awaiting a response.
	AddInFlight(delta int)

	// RecordReconnect records one reconnect cycle and whether it succeeded.
	RecordReconnect(success bool)

	// RecordSignatureFailure counts a response rejected by signature
	// verification.
	RecordSignatureFailure()

	// SetActive reports the number of live objects of a kind in the
	// shared registry. kind is "connections", "sessions" or "trees".
	SetActive(kind string, n int)
}

// NewCIFSMetrics creates a Prometheus-backed CIFSMetrics.
//
// Returns nil if metrics are not enabled or no implementation has been
// registered (import pkg/metrics/prometheus for its side effect).
func NewCIFSMetrics() CIFSMetrics {
	if !IsEnabled() || newPrometheusCIFSMetrics == nil {
		return nil
	}
	return newPrometheusCIFSMetrics()
}

var newPrometheusCIFSMetrics func() CIFSMetrics

// RegisterCIFSMetricsConstructor registers the Prometheus constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterCIFSMetricsConstructor(constructor func() CIFSMetrics) {
	newPrometheusCIFSMetrics = constructor
}

// ObserveRequest is a nil-safe wrapper around CIFSMetrics.ObserveRequest.
func ObserveRequest(m CIFSMetrics, command, outcome string, d time.Duration) {
	if m != nil {
		m.ObserveRequest(command, outcome, d)
	}
}

// AddInFlight is a nil-safe wrapper around CIFSMetrics.AddInFlight.
func AddInFlight(m CIFSMetrics, delta int) {
	if m != nil {
		m.AddInFlight(delta)
	}
}

// RecordReconnect is a nil-safe wrapper around CIFSMetrics.RecordReconnect.
func RecordReconnect(m CIFSMetrics, success bool) {
	if m != nil {
		m.RecordReconnect(success)
	}
}

// RecordSignatureFailure is a nil-safe wrapper.
func RecordSignatureFailure(m CIFSMetrics) {
	if m != nil {
		m.RecordSignatureFailure()
	}
}

// SetActive is a nil-safe wrapper around CIFSMetrics.SetActive.
func SetActive(m CIFSMetrics, kind string, n int) {
	if m != nil {
		m.SetActive(kind, n)
	}
}
