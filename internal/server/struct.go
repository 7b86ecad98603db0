package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragent-go/internal/agent"
	"github.com/54b3r/ragent-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed AskTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds one POST /api/ask run (default: 2 minutes).
	AskTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// asker is the session-level agent surface the handlers call.
// *agent.SessionManager satisfies it; tests inject a fake.
type asker interface {
	// Ask runs one question within a session.
	Ask(ctx context.Context, sessionID, question string) (*agent.Result, error)
	// Reset clears a session's memory and history.
	Reset(ctx context.Context, sessionID string) error
	// Runs lists the most recent recorded runs of a session.
	Runs(ctx context.Context, sessionID string, n int) ([]store.RunRecord, error)
}

// toolLister describes the registered tools for GET /api/tools.
// *tools.Registry satisfies it.
type toolLister interface {
	Infos(ctx context.Context) ([]*schema.ToolInfo, error)
}

// Server is the HTTP server that exposes the agent.
type Server struct {
	// asker runs questions; set to the session manager in production.
	asker asker
	// tools lists the registered tools.
	tools toolLister
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// SessionID selects the conversation. A new one is minted when empty.
	SessionID string `json:"session_id,omitempty"`
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// askResponse is the JSON body returned by POST /api/ask.
type askResponse struct {
	// SessionID echoes or mints the conversation ID.
	SessionID string `json:"session_id"`
	*agent.Result
}

// resetResponse is the JSON body returned by POST /api/sessions/{id}/reset.
type resetResponse struct {
	SessionID string `json:"session_id"`
	Reset     bool   `json:"reset"`
}

// toolDescriptor is one entry of GET /api/tools.
type toolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// runsResponse is the JSON body returned by GET /api/sessions/{id}/runs.
type runsResponse struct {
	SessionID string            `json:"session_id"`
	Runs      []store.RunRecord `json:"runs"`
}
