// Package admin serves the operational endpoints that sit beside the
// HTTP engine: Prometheus metrics, liveness, readiness and the route
// table. It runs on net/http with a chi router, separate from the
// engine's own listener.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dqx0.com/go/minirest/httpx"
	"dqx0.com/go/minirest/internal/obs"
)

// Target is the part of the engine the admin endpoints inspect.
// *httpx.Server implements it.
type Target interface {
	Ready() bool
	ActiveConns() int
}

// Options configures NewRouter.
type Options struct {
	Gatherer prometheus.Gatherer
	Target   Target
	// Routes, when set, is listed by GET /routes.
	Routes *httpx.Router
	Logger obs.Logger
}

type routeInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// NewRouter returns the admin handler.
func NewRouter(o Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	g := o.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ready := o.Target != nil && o.Target.Ready()
		body := map[string]any{"ready": ready}
		if o.Target != nil {
			body["connections"] = o.Target.ActiveConns()
		}
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	if o.Routes != nil {
		r.Get("/routes", func(w http.ResponseWriter, _ *http.Request) {
			routes := o.Routes.Routes()
			out := make([]routeInfo, 0, len(routes))
			for _, rt := range routes {
				out = append(out, routeInfo{Method: rt.Method, Path: rt.Path})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(out)
		})
	}
	return r
}

// Server runs the admin router on its own listener.
type Server struct {
	srv *http.Server
	log obs.Logger
}

// NewServer returns an admin server for addr.
func NewServer(addr string, o Options) *Server {
	lg := o.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(o),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: lg,
	}
}

// Serve serves on l until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Logf(obs.Info, "admin listening on %s", l.Addr())
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
