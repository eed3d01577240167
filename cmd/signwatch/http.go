package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/config"
)

// handleHTTPServer starts the HTTP server on cfg.Addr. It shuts the server
// down when ctx is cancelled; listen errors are sent to errc.
func handleHTTPServer(ctx context.Context, cfg config.ServerConfig, handler http.Handler, wg *sync.WaitGroup, errc chan error, logger zerolog.Logger) {
	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errc <- err:
				default:
				}
			}
		}()

		<-ctx.Done()
		logger.Info().Str("addr", cfg.Addr).Msg("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to shutdown")
		}
	}()
}
