package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragent-go/internal/logging"
	"github.com/54b3r/ragent-go/internal/server"
	"github.com/54b3r/ragent-go/internal/tracing"
)

// NewServeCmd constructs the `ragent serve` command, which starts the JSON
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragent HTTP API server",
		Long: `Start the HTTP API server.

Endpoints:
  POST /api/ask                   {"session_id": "...", "question": "..."}
  POST /api/sessions/{id}/reset   clear a session
  GET  /api/sessions/{id}/runs    recent run traces
  GET  /api/tools                 available tools
  GET  /api/health, /api/ready    liveness and dependency readiness
  GET  /metrics                   Prometheus metrics

Set RAGENT_API_KEY to require "Authorization: Bearer <key>" on /api/*.

Examples:
  ragent serve
  ragent serve --port 9090
  MODEL_PROVIDER=openai ragent serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush := tracing.Install(log)
			defer flush()

			rt, err := buildStack(ctx, log, stackOptions{persist: true})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			if host == "" {
				host = os.Getenv("RAGENT_HOST")
			}
			if port == 0 {
				if p, err := strconv.Atoi(os.Getenv("RAGENT_PORT")); err == nil {
					port = p
				}
			}

			srv, err := server.New(rt.sessions, rt.registry, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: rt.pingers(),
				APIKey:  os.Getenv("RAGENT_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting", slog.String("provider", string(rt.providerCfg.Backend)))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: RAGENT_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: RAGENT_PORT or 8080)")

	return cmd
}
