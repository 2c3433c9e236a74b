package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/goalboard/internal/adapters/http/api"
	"github.com/okian/goalboard/internal/adapters/http/swagger"
	service "github.com/okian/goalboard/internal/app"
	"github.com/okian/goalboard/internal/testserver"
	"github.com/okian/goalboard/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newRunCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync the dashboard and serve the local read API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = c.cfg.Addr
			}
			return c.run(cmd.Context(), addr)
		},
	}
	cmd.Flags().String("addr", "", "Local API listen address (overrides config)")
	return cmd
}

func (c *cli) run(parent context.Context, addr string) error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := service.New(
		service.WithConfig(c.cfg),
		service.WithLogger(c.log.Named("service")),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	apiServer := api.NewServer(svc, api.WithCORSOrigins(c.cfg.Origins()))

	mux := http.NewServeMux()
	swagger.Register(mux)
	mux.Handle("/", apiServer.Handler())

	return c.serve(ctx, addr, mux, nil)
}

func newFakeServerCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fake-server",
		Short: "Serve an in-memory goal service for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fake := testserver.New(testserver.WithLogger(c.log.Named("fake")))
			// Hijacked stream connections are not closed by Shutdown.
			return c.serve(ctx, addr, fake.Handler(), fake.DropClients)
		},
	}
	cmd.Flags().String("addr", ":8000", "Listen address")
	return cmd
}

// serve runs handler on addr until ctx is done, then shuts down gracefully.
// beforeShutdown, when set, runs once the context is cancelled.
func (c *cli) serve(ctx context.Context, addr string, handler http.Handler, beforeShutdown func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		c.log.Info(ctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	c.log.Info(ctx, "shutting down server...")

	if beforeShutdown != nil {
		beforeShutdown()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.log.Error(ctx, "server shutdown failed", logger.Error(err))
		return err
	}

	c.log.Info(ctx, "server stopped")
	return nil
}
