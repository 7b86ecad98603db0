// Package server implements the HTTP server that exposes the ragent agent
// via a JSON API. The server is started by the `ragent serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragent-go/internal/agent"
	"github.com/54b3r/ragent-go/internal/logging"
	"github.com/54b3r/ragent-go/internal/tools"
)

const (
	// maxRequestBody bounds POST bodies.
	maxRequestBody = 64 << 10
	// maxQuestionRunes bounds the question length.
	maxQuestionRunes = 4000
	// defaultRunsLimit is the number of runs listed when ?limit is absent.
	defaultRunsLimit = 20
)

// New constructs a Server from the session manager, the tool registry and
// config.
func New(sessions *agent.SessionManager, registry *tools.Registry, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("server: session manager must not be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("server: tool registry must not be nil")
	}
	return newServer(sessions, registry, cfg), nil
}

// newServer applies config defaults and builds the routing tree.
func newServer(a asker, tl toolLister, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.AskTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		asker:   a,
		tools:   tl,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: RAGENT_API_KEY is not set, API authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", s.instrument("ask", protect(s.handleAsk)))
	mux.Handle("POST /api/sessions/{id}/reset", s.instrument("reset", protect(s.handleReset)))
	mux.Handle("GET /api/sessions/{id}/runs", s.instrument("runs", protect(s.handleRuns)))
	mux.Handle("GET /api/tools", s.instrument("tools", protect(s.handleTools)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask. It runs one agent turn within the
// request's session and returns the full result as JSON.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	if len([]rune(req.Question)) > maxQuestionRunes {
		http.Error(w, "question is too long", http.StatusRequestEntityTooLarge)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, log.With(slog.String("session_id", req.SessionID)))

	s.metrics.askInFlight.Inc()
	start := time.Now()
	res, err := s.asker.Ask(ctx, req.SessionID, req.Question)
	elapsed := time.Since(start).Seconds()
	s.metrics.askInFlight.Dec()

	outcome := outcomeOK
	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = outcomeTimeout
	case err != nil:
		outcome = outcomeError
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(elapsed)

	switch outcome {
	case outcomeTimeout:
		log.Warn("ask timed out", slog.Duration("timeout", s.cfg.AskTimeout))
		http.Error(w, "agent run timed out", http.StatusGatewayTimeout)
		return
	case outcomeError:
		log.Error("ask failed", slog.Any("error", err))
		http.Error(w, "agent run failed", http.StatusInternalServerError)
		return
	}

	s.metrics.observeResult(res)
	s.writeJSON(w, r, http.StatusOK, askResponse{SessionID: req.SessionID, Result: res})
}

// handleReset handles POST /api/sessions/{id}/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	if err := s.asker.Reset(r.Context(), id); err != nil {
		logging.FromContext(r.Context()).Error("reset failed",
			slog.String("session_id", id), slog.Any("error", err))
		http.Error(w, "reset failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, resetResponse{SessionID: id, Reset: true})
}

// handleRuns handles GET /api/sessions/{id}/runs?limit=n.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 200)
	}
	runs, err := s.asker.Runs(r.Context(), id, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("list runs failed",
			slog.String("session_id", id), slog.Any("error", err))
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, runsResponse{SessionID: id, Runs: runs})
}

// handleTools handles GET /api/tools.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	infos, err := s.tools.Infos(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("tool infos failed", slog.Any("error", err))
		http.Error(w, "tool listing failed", http.StatusInternalServerError)
		return
	}
	out := make([]toolDescriptor, 0, len(infos))
	for _, info := range infos {
		out = append(out, toolDescriptor{Name: info.Name, Description: info.Desc})
	}
	s.writeJSON(w, r, http.StatusOK, map[string][]toolDescriptor{"tools": out})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("encode response", slog.Any("error", err))
	}
}
