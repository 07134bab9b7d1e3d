// Package app contains the shared logic for starting and stopping the
// service's two halves: the HTTP API and the websocket connection manager.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/internal/realtime"
	"github.com/willowchat/realtime-service/realtimeservice"
)

const shutdownTimeout = 15 * time.Second

// Run executes the main application lifecycle. It starts both services,
// listens for OS signals, and performs a graceful shutdown of both.
func Run(
	ctx context.Context,
	logger zerolog.Logger,
	apiService *realtimeservice.Wrapper,
	connManager *realtime.Manager,
) {
	var wg sync.WaitGroup
	wg.Add(2)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer wg.Done()
		logger.Info().Msg("Starting API service...")
		if err := apiService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("API service failed.")
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		logger.Info().Msg("Starting connection manager...")
		if err := connManager.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Connection manager failed.")
			cancel()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal.")
	case <-ctx.Done():
		logger.Info().Msg("Context cancelled, initiating shutdown.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// The connection manager goes first so no new events are produced for
	// connections the API's in-flight dispatches might still target.
	if err := connManager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Connection manager shutdown failed.")
	}
	if err := apiService.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API service shutdown failed.")
	}

	wg.Wait()
	logger.Info().Msg("All services shut down gracefully.")
}
