// Package server exposes the appliance's HTTP surface: health, status,
// stored violations and metrics, login, and the live video feeds.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"signwatch/internal/auth"
	"signwatch/internal/logging"
	"signwatch/internal/middleware"
	"signwatch/internal/pipeline"
	"signwatch/internal/violations"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// StatusProvider reports live pipeline counters
type StatusProvider interface {
	Stats() pipeline.Stats
}

// ViolationStore reads recent violation events
type ViolationStore interface {
	RecentViolations(limit int) ([]violations.Event, error)
}

// MetricsStore reads recent metric samples
type MetricsStore interface {
	RecentMetrics(limit int) ([]pipeline.MetricsSample, error)
}

// ClientCounter reports connected viewers
type ClientCounter interface {
	ClientCount() int
}

// Deps are the collaborators behind the routes. Violations, Metrics and
// Clients may be nil.
type Deps struct {
	Pipeline   StatusProvider
	Engine     string
	Variant    string
	Camera     string
	Clients    ClientCounter
	Violations ViolationStore
	Metrics    MetricsStore
	WebSocket  http.Handler
	MJPEG      http.Handler
	Auth       *auth.Authenticator
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Engine   string         `json:"engine"`
	Variant  string         `json:"variant"`
	Camera   string         `json:"camera"`
	Clients  int            `json:"clients"`
	Uptime   string         `json:"uptime"`
	Pipeline pipeline.Stats `json:"pipeline"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type server struct {
	deps    Deps
	log     zerolog.Logger
	started time.Time
}

// NewRouter mounts every route. Everything except /healthz and /api/login
// sits behind the auth middleware.
func NewRouter(deps Deps, log zerolog.Logger) http.Handler {
	s := &server{
		deps:    deps,
		log:     logging.Component(log, "HTTP"),
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(middleware.AuthMiddleware(deps.Auth))
		}
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/violations", s.handleViolations)
		r.Get("/api/metrics", s.handleMetrics)
		if deps.WebSocket != nil {
			r.Handle("/ws", deps.WebSocket)
		}
		if deps.MJPEG != nil {
			r.Get("/stream.mjpeg", deps.MJPEG.ServeHTTP)
		}
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Engine:  s.deps.Engine,
		Variant: s.deps.Variant,
		Camera:  s.deps.Camera,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Pipeline != nil {
		resp.Pipeline = s.deps.Pipeline.Stats()
	}
	if s.deps.Clients != nil {
		resp.Clients = s.deps.Clients.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleViolations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Violations == nil {
		writeError(w, http.StatusServiceUnavailable, "violation logging is disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.deps.Violations.RecentViolations(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read violations")
		writeError(w, http.StatusInternalServerError, "failed to read violations")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics storage is disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.deps.Metrics.RecentMetrics(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read metrics")
		writeError(w, http.StatusInternalServerError, "failed to read metrics")
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil || !s.deps.Auth.IsEnabled() {
		writeError(w, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.deps.Auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.log.Warn().Str("username", req.Username).Msg("Login rejected")
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	case err != nil:
		s.log.Error().Err(err).Msg("Login failed")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
