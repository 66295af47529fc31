package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marmos91/cifscore/pkg/cifs"
	"github.com/marmos91/cifscore/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed []cifs.ConnectionStatus

func (f fixed) Snapshot() []cifs.ConnectionStatus { return f }

var snapshot = fixed{
	{
		Server:  "fs01:445",
		ID:      "c1",
		State:   "good",
		Dialect: "NT LM 0.12",
		Signing: true,
		Sessions: []cifs.SessionStatus{{
			User:   "alice",
			UID:    100,
			Method: "ntlmssp",
			Auth:   "established",
			Trees:  []cifs.TreeStatus{{Share: `\\fs01\data`, TID: 7, Service: "A:", Refs: 2}},
		}},
	},
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// ============================================================================
// Routes
// ============================================================================

func TestStatus(t *testing.T) {
	h := NewRouter(snapshot)

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []cifs.ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint16(7), got[0].Sessions[0].Trees[0].TID)
}

func TestStatusByServer(t *testing.T) {
	h := NewRouter(snapshot)

	t.Run("Known", func(t *testing.T) {
		rec := get(t, h, "/status/FS01:445")
		require.Equal(t, http.StatusOK, rec.Code)
		var got cifs.ConnectionStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "c1", got.ID)
	})

	t.Run("Unknown", func(t *testing.T) {
		rec := get(t, h, "/status/fs02:445")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthz(t *testing.T) {
	t.Run("Good", func(t *testing.T) {
		rec := get(t, NewRouter(snapshot), "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Reconnecting", func(t *testing.T) {
		degraded := fixed{{Server: "fs01:445", State: "reconnecting"}}
		rec := get(t, NewRouter(degraded), "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "reconnecting")
	})

	t.Run("Empty", func(t *testing.T) {
		rec := get(t, NewRouter(fixed{}), "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		metrics.ResetRegistry()
		rec := get(t, NewRouter(snapshot), "/metrics")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Enabled", func(t *testing.T) {
		metrics.InitRegistry()
		t.Cleanup(metrics.ResetRegistry)

		rec := get(t, NewRouter(snapshot), "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

// ============================================================================
// Server
// ============================================================================

func TestServerLifecycle(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", snapshot)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fs01:445")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}
