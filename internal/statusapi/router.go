// Package statusapi serves the registry snapshot and Prometheus metrics of a
// long-running cifsctl process.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/pkg/cifs"
	"github.com/marmos91/cifscore/pkg/metrics"
)

// Snapshotter is implemented by *cifs.Registry.
type Snapshotter interface {
	Snapshot() []cifs.ConnectionStatus
}

// NewRouter returns the HTTP routes:
//
//	GET /status          all connections, sessions and trees
//	GET /status/{server} one connection, by host:port
//	GET /healthz         200 when every connection is Good
//	GET /metrics         Prometheus exposition (404 when metrics are off)
func NewRouter(src Snapshotter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	})
	r.Get("/status/{server}", func(w http.ResponseWriter, r *http.Request) {
		server := chi.URLParam(r, "server")
		for _, c := range src.Snapshot() {
			if strings.EqualFold(c.Server, server) {
				writeJSON(w, http.StatusOK, c)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown server " + server})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		for _, c := range src.Snapshot() {
			if c.State != "good" {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"server": c.Server,
					"state":  c.State,
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("status request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String())
	})
}

// Server is the HTTP listener around NewRouter.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr (for example ":9445") without serving yet.
func Listen(addr string, src Snapshotter) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           NewRouter(src),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	if err := s.srv.Serve(s.ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
