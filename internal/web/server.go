// Package web serves the helifx status page, its JSON form, live turret
// axes and a health check.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/sweeney/helifx/internal/status"
)

// Server serves tracker snapshots over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	mux        *http.ServeMux
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker, mux: http.NewServeMux()}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/index.html", s.handleIndex)
	s.mux.HandleFunc("/index.json", s.handleJSON)
	s.mux.HandleFunc("/axes.json", s.handleAxes)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

// Handler returns the request router, for serving from httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// handleAxes returns only the turret axes, for polling at a higher rate
// than the full status.
func (s *Server) handleAxes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(status.Axes(s.tracker.Snapshot()))
}

// handleHealth is 200 once the first observation is in and, with the gun
// enabled, the slave has answered init. Otherwise 503 with the reason.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	switch {
	case !snap.Baselined:
		http.Error(w, "starting", http.StatusServiceUnavailable)
	case snap.Config.GunEnabled && !snap.Link.Ready:
		http.Error(w, "gun slave not ready", http.StatusServiceUnavailable)
	default:
		w.Write([]byte("ok\n"))
	}
}
