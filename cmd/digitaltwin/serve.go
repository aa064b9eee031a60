package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/digitaltwin/internal/http"
	"github.com/fyrsmithlabs/digitaltwin/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var (
		host   string
		port   int
		warmUp bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with MCP mounted at /mcp",
		Long: `Serve the REST and SSE API, Prometheus metrics at /metrics and the
MCP streamable HTTP transport at /mcp. Shuts down gracefully on SIGINT or
SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, logStdout)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg
			zl := a.logger.Underlying()
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			if warmUp {
				// A failing store leaves the service degraded, not down.
				if err := a.service.Initialize(ctx); err != nil {
					return fmt.Errorf("failed to index profile: %w", err)
				}
			}

			mcpServer, err := mcp.NewServer(&mcp.Config{
				Name:    "digitaltwin",
				Version: version,
				Logger:  zl.Named("mcp"),
			}, a.service)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			srv, err := httpserver.NewServer(a.service, zl.Named("http"), &httpserver.Config{
				Host:            cfg.Server.Host,
				Port:            cfg.Server.Port,
				ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
				AllowOrigins:    cfg.Server.AllowOrigins,
			},
				httpserver.WithMCPHandler(mcpServer.HTTPHandler()),
				httpserver.WithMetrics(httpserver.NewHTTPMetrics(zl)),
			)
			if err != nil {
				return fmt.Errorf("failed to create HTTP server: %w", err)
			}

			zl.Info("server configured",
				zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
				zap.String("mcp_prefix", "/mcp"),
				zap.String("metrics_endpoint", "/metrics"))

			// Start blocks until ctx is cancelled by a signal.
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	cmd.Flags().BoolVar(&warmUp, "warm-up", true, "index the profile before accepting requests")
	return cmd
}
