package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/llm-router/app"
	"github.com/upb/llm-router/routes"
	"go.uber.org/zap"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the relay HTTP API",
		Example: "  llm-router serve --addr :8080\n" +
			"  LLM_SERVER_URL=http://gpu-box:8080 llm-router serve",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (defaults HTTP_ADDR or :8080)")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	deps, err := app.NewDependencies(ctx, c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	listener, err := net.Listen("tcp", c.cfg.Server.Addr)
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.Server.Addr, err)
	}

	return runServer(ctx, listener, deps)
}

// runServer serves until ctx is done, then drains in-flight requests and
// closes deps
func runServer(ctx context.Context, listener net.Listener, deps *app.Dependencies) error {
	cfg := deps.Config
	srv := &http.Server{
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		deps.Logger.Info("llm-router listening",
			zap.String("addr", listener.Addr().String()),
			zap.Int("models", deps.Router.Len()),
			zap.String("default_model", deps.Router.DefaultModel()))
		serveErr <- srv.Serve(listener)
	}()

	var err error
	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		deps.Logger.Info("shutting down server")
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			deps.Logger.Error("graceful shutdown error", zap.Error(serr))
			err = serr
		}
	}

	if cerr := deps.Close(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
