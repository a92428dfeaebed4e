// ABOUTME: HTTP server exposing the acquisition session to the dashboard
// ABOUTME: Implements session control, snapshot, catalog, and health check routes
package http

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harper/biosignal-recorder/internal/application/manager"
	"github.com/harper/biosignal-recorder/internal/domain"
)

//go:embed static/index.html
var static embed.FS

// Dashboard holds the render settings handed to the page.
type Dashboard struct {
	PollMs         int
	LengthDisplayS int
}

type Server struct {
	mgr    *manager.Manager
	dash   Dashboard
	logger *slog.Logger
	router chi.Router
}

func NewServer(mgr *manager.Manager, dash Dashboard, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mgr:    mgr,
		dash:   dash,
		logger: logger.With("component", "http"),
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", HealthzHandler)
	s.router.Get("/", s.handleIndex)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Get("/session", s.handleStatus)
		r.Post("/session/start", s.handleStart)
		r.Post("/session/stop", s.handleStop)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/sessions", s.handleSessions)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(page)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	lo, hi := s.mgr.Limits()
	writeJSON(w, http.StatusOK, ConfigResponse{
		Defaults:        s.mgr.Defaults(),
		Current:         s.mgr.CurrentConfig(),
		MinSamplingRate: lo,
		MaxSamplingRate: hi,
		PollMs:          s.dash.PollMs,
		LengthDisplayS:  s.dash.LengthDisplayS,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	cur := s.mgr.CurrentConfig()
	if req.MACAddress == "" {
		req.MACAddress = cur.MACAddress
	}
	if req.SamplingRate == 0 {
		req.SamplingRate = cur.SamplingRate
	}

	if err := s.mgr.Start(r.Context(), req.MACAddress, req.SamplingRate); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Stop(r.Context()); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.mgr.CurrentSnapshot()
	if !ok {
		writeJSON(w, http.StatusOK, SnapshotResponse{Columns: []string{}, Rows: [][]float64{}})
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotResponse(snap))
}

func (s *Server) snapshotResponse(snap manager.Snapshot) SnapshotResponse {
	n := snap.Channels()
	resp := SnapshotResponse{
		Running:      true,
		SamplingRate: snap.SamplingRate,
		Channels:     n,
		Columns:      make([]string, 0, n+1),
		Rows:         make([][]float64, 0, len(snap.Samples)),
	}

	resp.Columns = append(resp.Columns, "t")
	for i := 1; i <= n; i++ {
		resp.Columns = append(resp.Columns, "ch"+strconv.Itoa(i))
	}

	for _, smp := range snap.Samples {
		row := make([]float64, 0, n+1)
		row = append(row, smp.Elapsed(snap.SamplingRate))
		row = append(row, smp.Channels...)
		resp.Rows = append(resp.Rows, row)
	}

	if len(resp.Rows) > 0 {
		t0 := resp.Rows[0][0]
		resp.XDomain = []float64{t0, t0 + float64(s.dash.LengthDisplayS)}
	}
	return resp
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	sessions, err := s.mgr.Sessions(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []domain.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDriver):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
