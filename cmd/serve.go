package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

// serve runs handler on addr until SIGINT/SIGTERM or ctx ends, then shuts
// down gracefully. ready, when set, receives the bound address.
func serve(ctx context.Context, name, addr string, handler http.Handler, ready func(net.Addr)) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	log.SafeGo(name+".serve", func() { errCh <- srv.Serve(ln) })
	log.Info(log.CatHost, "server started", "name", name, "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping %s server: %w", name, err)
	}
	log.Info(log.CatHost, "server stopped", "name", name)
	return nil
}

// startServerTracing starts the tracing provider for a service command.
// The returned function flushes and stops it.
func startServerTracing(service string) (func(), error) {
	tc := cfg.Tracing
	tc.ServiceName = service
	provider, err := tracing.NewProvider(tc)
	if err != nil {
		return nil, fmt.Errorf("starting tracing: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatTrace, "tracing shutdown failed", err)
		}
	}, nil
}

// initServerLogging logs to stderr for --debug service commands.
func initServerLogging() {
	if debugFlag || log.EnabledFromEnv() {
		log.InitWriter(os.Stderr)
	}
}
