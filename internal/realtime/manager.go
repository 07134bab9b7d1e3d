package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/internal/middleware"
	"github.com/willowchat/realtime-service/pkg/chat"
)

// Manager owns the websocket endpoint and the per-connection lifecycle. It
// runs its own dedicated HTTP server, separate from the REST API.
type Manager struct {
	server   *http.Server
	upgrader websocket.Upgrader

	hub     *Hub
	tracker *Tracker
	subs    *Subscriptions
	members chat.MembershipStore

	logger     zerolog.Logger
	instanceID string
}

// NewManager creates and wires up the websocket connection manager.
func NewManager(
	port string,
	authMiddleware func(http.Handler) http.Handler,
	hub *Hub,
	tracker *Tracker,
	subs *Subscriptions,
	members chat.MembershipStore,
	logger zerolog.Logger,
) *Manager {
	instanceID := uuid.NewString()
	m := &Manager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the configured client origins
				return true
			},
		},
		hub:        hub,
		tracker:    tracker,
		subs:       subs,
		members:    members,
		logger:     logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger(),
		instanceID: instanceID,
	}

	mux := http.NewServeMux()
	mux.Handle("/connect", authMiddleware(http.HandlerFunc(m.connectHandler)))
	m.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
	return m
}

// InstanceID identifies this manager in the shared presence index.
func (m *Manager) InstanceID() string { return m.instanceID }

// Start runs the HTTP server for websocket connections.
func (m *Manager) Start(_ context.Context) error {
	m.logger.Info().Str("addr", m.server.Addr).Msg("WebSocket server starting...")
	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and closes open connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info().Msg("Shutting down WebSocket service...")
	err := m.server.Shutdown(ctx)

	for _, c := range m.hub.Registry().All() {
		c.close()
	}

	if err != nil {
		m.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		return err
	}
	m.logger.Info().Msg("WebSocket service shut down.")
	return nil
}

// connectHandler upgrades an authenticated request to a websocket and runs
// the connection until the transport closes.
func (m *Manager) connectHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity, err := chat.ParseIdentity(subject)
	if err != nil {
		m.logger.Error().Err(err).Str("subject", subject).Msg("Authenticated subject is not a valid identity.")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	conn := newConn(uuid.NewString(), identity, sock, m.logger)
	conn.setState(StateAuthenticated)
	go conn.writePump()

	m.register(r.Context(), conn)
	defer m.unregister(conn)

	m.logger.Info().Str("user", identity.String()).Str("conn", conn.ID()).Msg("User connected.")
	m.readLoop(conn)
}

// register adds the connection to the registry (joining its identity-group),
// records the presence change, and joins a chat-group for every chat in the
// membership snapshot. A failed snapshot fetch is non-fatal: the connection
// stays up with its identity-group only, and chat-group membership heals on
// the next mutation event or reconnect.
func (m *Manager) register(ctx context.Context, conn *Conn) {
	registry := m.hub.Registry()
	registry.Add(conn)
	m.tracker.ConnectionOpened(ctx, conn.Identity())

	chatIDs, err := m.members.ChatIDsFor(ctx, conn.Identity())
	if err != nil {
		m.logger.Warn().Err(err).Str("user", conn.Identity().String()).
			Msg("Membership snapshot failed; connection keeps identity-group only.")
	} else {
		for _, chatID := range chatIDs {
			registry.Join(conn, chat.ChatGroup(chatID))
		}
	}

	conn.setState(StateJoined)
}

// unregister tears the connection down: leaving every group happens inside
// the registry removal, which also ends any presence subscriptions this
// connection held.
func (m *Manager) unregister(conn *Conn) {
	conn.close()
	m.hub.Registry().Remove(conn)
	m.tracker.ConnectionClosed(context.Background(), conn.Identity())
	m.logger.Info().Str("user", conn.Identity().String()).Str("conn", conn.ID()).Msg("User disconnected.")
}

// readLoop consumes client frames until the transport closes. Only the
// closed set of client event kinds is accepted; anything else is dropped.
func (m *Manager) readLoop(conn *Conn) {
	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}
		m.handleClientEvent(conn, data)
	}
}

func (m *Manager) handleClientEvent(conn *Conn, data []byte) {
	var ev chat.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		m.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("Dropping malformed client frame.")
		return
	}

	ctx := context.Background()
	switch ev.Kind {
	case chat.EventPresenceSubscribe:
		var payload chat.PresenceSubscribePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			m.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("Dropping malformed presence:subscribe payload.")
			return
		}
		m.subs.Subscribe(ctx, conn, payload.UserIDs)

	case chat.EventPresenceUnsubscribe:
		var payload chat.PresenceSubscribePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			m.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("Dropping malformed presence:unsubscribe payload.")
			return
		}
		m.subs.Unsubscribe(ctx, conn, payload.UserIDs)

	default:
		m.logger.Debug().Str("conn", conn.ID()).Str("kind", string(ev.Kind)).
			Msg("Dropping client frame of unknown kind.")
	}
}
