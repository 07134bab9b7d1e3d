// Package realtimeservice wires the HTTP API surface of the realtime service
// and owns its lifecycle. The websocket side runs as its own service; see
// internal/realtime.Manager.
package realtimeservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/internal/api"
	"github.com/willowchat/realtime-service/internal/fanout"
	"github.com/willowchat/realtime-service/internal/realtime"
	"github.com/willowchat/realtime-service/pkg/chat"
	"github.com/willowchat/realtime-service/realtimeservice/config"
)

// ServiceDependencies carries the assembled collaborators into New. The
// entrypoints build them per run mode (prod against Firestore/Redis/FCM,
// local against in-memory fakes).
type ServiceDependencies struct {
	Hub    *realtime.Hub
	Syncer *realtime.Syncer
	Engine *fanout.Engine
	Gate   *fanout.Gate

	Notifications chat.NotificationStore
	Tokens        chat.DeviceTokenStore
}

// Wrapper is the HTTP API service.
type Wrapper struct {
	server     *http.Server
	engine     *fanout.Engine
	logger     zerolog.Logger
	ready      atomic.Bool
	listenChan chan struct{}
}

// New creates and wires up the API service.
func New(
	cfg *config.AppConfig,
	deps *ServiceDependencies,
	authMiddleware func(http.Handler) http.Handler,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies cannot be nil")
	}

	w := &Wrapper{
		engine:     deps.Engine,
		logger:     logger.With().Str("component", "APIService").Logger(),
		listenChan: make(chan struct{}),
	}

	apiHandler := api.NewAPI(
		deps.Gate,
		deps.Engine,
		deps.Hub,
		deps.Syncer,
		deps.Notifications,
		deps.Tokens,
		logger,
	)

	mux := http.NewServeMux()
	apiHandler.Register(mux, authMiddleware)
	mux.HandleFunc("GET /healthz", w.healthzHandler)

	w.server = &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: mux,
	}
	return w, nil
}

// Start runs the HTTP server and blocks until it exits. Ready is reported
// once the listener is active.
func (w *Wrapper) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.server.Addr, err)
	}

	w.logger.Info().Str("addr", w.server.Addr).Msg("API server starting...")
	w.ready.Store(true)
	close(w.listenChan)

	if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Ready reports whether the listener is accepting connections. Used by
// startup orchestration and tests.
func (w *Wrapper) Ready() <-chan struct{} { return w.listenChan }

// Shutdown stops the HTTP server, then waits for in-flight background push
// deliveries so none are cut off mid-batch.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down API service...")
	w.ready.Store(false)

	err := w.server.Shutdown(ctx)
	w.engine.Wait()

	if err != nil {
		w.logger.Error().Err(err).Msg("API server shutdown failed.")
		return err
	}
	w.logger.Info().Msg("API service shut down.")
	return nil
}

func (w *Wrapper) healthzHandler(rw http.ResponseWriter, _ *http.Request) {
	if !w.ready.Load() {
		http.Error(rw, "not ready", http.StatusServiceUnavailable)
		return
	}
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}
