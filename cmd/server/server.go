package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/taskrelay/internal/session"
)

// startHTTPServer serves handler on ln until ctx is cancelled, then shuts
// down gracefully. Websocket sessions are hijacked connections that
// http.Server.Shutdown does not track, so they are closed with 1001 once
// the listener has stopped accepting.
func (app *application) startHTTPServer(ctx context.Context, ln net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			app.logger.Error("server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout())
	defer cancel()

	err := server.Shutdown(shutdownCtx)

	sessions := app.hub.Count()
	app.hub.CloseAll(session.CloseGoingAway, "server shutting down")

	if err != nil {
		app.logger.Error("server shutdown failed", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	app.logger.Info("server shutdown completed", "closed_sessions", sessions)
	return nil
}
