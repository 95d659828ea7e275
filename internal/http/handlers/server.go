package handlers

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/valyala/fasthttp"
)

// Serve runs server on ln until ctx ends, then shuts it down. It returns
// only once the shutdown has finished, so requests that were in flight
// when ctx ended have completed or the timeout has passed.
func Serve(ctx context.Context, server *fasthttp.Server, ln net.Listener, timeout time.Duration, logger *slog.Logger) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	// Serve returns as soon as the listener is closed, before open
	// connections have drained.
	if err := server.Serve(ln); err != nil {
		return err
	}
	<-done
	return nil
}
