// Package api defines the HTTP handlers for the realtime service: the send
// path that drives the fan-out engine, notification CRUD, device-token
// registration, and the membership-sync surface called by the application
// backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/internal/fanout"
	"github.com/willowchat/realtime-service/internal/middleware"
	"github.com/willowchat/realtime-service/internal/realtime"
	"github.com/willowchat/realtime-service/pkg/chat"
)

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	gate   *fanout.Gate
	engine *fanout.Engine
	hub    *realtime.Hub
	syncer *realtime.Syncer

	notifications chat.NotificationStore
	tokens        chat.DeviceTokenStore

	logger zerolog.Logger
}

func NewAPI(
	gate *fanout.Gate,
	engine *fanout.Engine,
	hub *realtime.Hub,
	syncer *realtime.Syncer,
	notifications chat.NotificationStore,
	tokens chat.DeviceTokenStore,
	logger zerolog.Logger,
) *API {
	return &API{
		gate:          gate,
		engine:        engine,
		hub:           hub,
		syncer:        syncer,
		notifications: notifications,
		tokens:        tokens,
		logger:        logger.With().Str("component", "API").Logger(),
	}
}

// Register attaches all handlers to the mux. Every route assumes the auth
// middleware has already run.
func (a *API) Register(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	authed := func(h http.HandlerFunc) http.Handler { return authMiddleware(h) }

	mux.Handle("POST /api/messages", authed(a.SendMessageHandler))
	mux.Handle("POST /api/notifications/{id}/read", authed(a.MarkNotificationReadHandler))
	mux.Handle("GET /api/notifications/unread-count", authed(a.UnreadCountHandler))
	mux.Handle("DELETE /api/notifications/{id}", authed(a.DeleteNotificationHandler))
	mux.Handle("POST /api/devices", authed(a.RegisterDeviceHandler))

	// Membership mutations arrive from the application backend, which owns
	// the chat CRUD; the realtime service only mirrors them onto live
	// connections.
	mux.Handle("POST /internal/chats", authed(a.ChatCreatedHandler))
	mux.Handle("PATCH /internal/chats/{id}", authed(a.ChatUpdatedHandler))
	mux.Handle("DELETE /internal/chats/{id}", authed(a.ChatDeletedHandler))
	mux.Handle("POST /internal/chats/{id}/members", authed(a.MemberJoinedHandler))
	mux.Handle("DELETE /internal/chats/{id}/members/{userId}", authed(a.MemberLeftHandler))
	mux.Handle("DELETE /internal/chats/{id}/messages/{messageId}", authed(a.MessageDeletedHandler))
}

type sendMessageRequest struct {
	ChatID       chat.ChatID     `json:"chatId"`
	MessageID    string          `json:"messageId"`
	Preview      string          `json:"preview"`
	RecipientIDs []chat.Identity `json:"recipientIds"`
}

// SendMessageHandler runs the full delivery path for one chat message: the
// policy gate first, then Dispatch with a chat-group live override so online
// members receive a single chat:message_created broadcast instead of
// per-recipient notification events.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	sender, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.RecipientIDs) == 0 {
		writeJSONError(w, http.StatusBadRequest, "recipientIds cannot be empty")
		return
	}

	log := a.logger.With().Str("user", sender.String()).Int64("chat", int64(req.ChatID)).Logger()

	if err := a.gate.CheckMember(r.Context(), sender, req.ChatID); err != nil {
		if errors.Is(err, fanout.ErrNotChatMember) {
			log.Info().Msg("Send rejected: sender is not a chat member.")
			writeJSONError(w, http.StatusForbidden, "not a member of this chat")
			return
		}
		log.Error().Err(err).Msg("Membership check failed.")
		writeJSONError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if err := a.gate.Check(r.Context(), sender, req.RecipientIDs); err != nil {
		if errors.Is(err, fanout.ErrInteractionBlocked) {
			log.Info().Msg("Send rejected by interaction policy.")
			writeJSONError(w, http.StatusForbidden, "interaction blocked")
			return
		}
		log.Error().Err(err).Msg("Policy check failed.")
		writeJSONError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	notification := chat.Notification{
		Type:     chat.NotificationChat,
		Title:    "New message",
		Body:     req.Preview,
		SenderID: &sender,
		Payload: map[string]string{
			"chatId":    req.ChatID.String(),
			"messageId": req.MessageID,
		},
	}

	record, err := a.engine.Dispatch(r.Context(), notification, req.RecipientIDs, fanout.DispatchOptions{
		Live: a.messageCreatedOverride(req, sender),
	})
	if err != nil {
		log.Error().Err(err).Msg("Dispatch failed.")
		writeJSONError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	log.Debug().Str("record", record.ID).Msg("Message dispatched.")
	writeJSON(w, http.StatusAccepted, map[string]string{"notificationId": record.ID})
}

// messageCreatedOverride broadcasts one chat:message_created event to the
// chat-group, excluding the sender's own connections.
func (a *API) messageCreatedOverride(req sendMessageRequest, sender chat.Identity) fanout.LiveOverride {
	return func(ctx context.Context, record *chat.NotificationRecord) {
		ev, err := chat.NewEvent(chat.EventChatMessageCreated, chat.MessagePayload{
			ChatID:    req.ChatID,
			MessageID: req.MessageID,
			SenderID:  sender,
			Preview:   req.Preview,
		})
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to build chat:message_created event.")
			return
		}
		a.hub.EmitToGroup(ctx, chat.ChatGroup(req.ChatID), []chat.Group{chat.UserGroup(sender)}, ev)
	}
}

// MarkNotificationReadHandler marks one of the caller's notifications read.
func (a *API) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}
	recordID := r.PathValue("id")

	if err := a.notifications.MarkRead(r.Context(), identity, recordID); err != nil {
		a.logger.Warn().Err(err).Str("record", recordID).Msg("Failed to mark notification read.")
		writeJSONError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnreadCountHandler returns the caller's unread notification count.
func (a *API) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}

	count, err := a.notifications.CountUnread(r.Context(), identity)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to count unread notifications.")
		writeJSONError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unreadCount": count})
}

// DeleteNotificationHandler removes the caller's copy of one notification.
func (a *API) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}
	recordID := r.PathValue("id")

	if err := a.notifications.Delete(r.Context(), identity, recordID); err != nil {
		a.logger.Warn().Err(err).Str("record", recordID).Msg("Failed to delete notification.")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// RegisterDeviceHandler stores a push token for the caller.
func (a *API) RegisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "token cannot be empty")
		return
	}

	err := a.tokens.Register(r.Context(), chat.DeviceToken{
		Token:    req.Token,
		Platform: req.Platform,
		OwnerID:  identity,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("user", identity.String()).Msg("Failed to register device token.")
		writeJSONError(w, http.StatusInternalServerError, "failed to register device")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type chatCreatedRequest struct {
	ChatID    chat.ChatID     `json:"chatId"`
	Name      string          `json:"name"`
	MemberIDs []chat.Identity `json:"memberIds"`
}

// ChatCreatedHandler joins the initial members' live connections to the new
// chat-group and announces the chat.
func (a *API) ChatCreatedHandler(w http.ResponseWriter, r *http.Request) {
	creator, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}

	var req chatCreatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a.syncer.ChatCreated(r.Context(), req.ChatID, req.Name, req.MemberIDs, creator)
	w.WriteHeader(http.StatusNoContent)
}

type chatUpdatedRequest struct {
	Name string `json:"name"`
}

func (a *API) ChatUpdatedHandler(w http.ResponseWriter, r *http.Request) {
	updater, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	var req chatUpdatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a.syncer.ChatUpdated(r.Context(), chatID, req.Name, updater)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ChatDeletedHandler(w http.ResponseWriter, r *http.Request) {
	deleter, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	a.syncer.ChatDeleted(r.Context(), chatID, deleter)
	w.WriteHeader(http.StatusNoContent)
}

type memberJoinedRequest struct {
	UserID chat.Identity `json:"userId"`
	Role   string        `json:"role"`
}

func (a *API) MemberJoinedHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authedIdentity(w, r); !ok {
		return
	}
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	var req memberJoinedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a.syncer.MemberJoined(r.Context(), chatID, req.UserID, req.Role)

	// The added member also gets a durable system notification, live or
	// pushed depending on their presence.
	notification := chat.Notification{
		Type:  chat.NotificationSystem,
		Title: "Added to chat",
		Body:  "You were added to a chat.",
		Payload: map[string]string{
			"chatId": chatID.String(),
		},
	}
	if _, err := a.engine.Dispatch(r.Context(), notification, []chat.Identity{req.UserID}, fanout.DispatchOptions{}); err != nil {
		a.logger.Warn().Err(err).Int64("chat", int64(chatID)).
			Msg("Failed to dispatch member-added notification.")
	}
	w.WriteHeader(http.StatusNoContent)
}

// MessageDeletedHandler mirrors a message deletion onto live connections:
// current members receive one chat:message_deleted broadcast, minus the
// deleter's own connections. Message storage itself lives in the application
// backend.
func (a *API) MessageDeletedHandler(w http.ResponseWriter, r *http.Request) {
	deleter, ok := a.authedIdentity(w, r)
	if !ok {
		return
	}
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}
	messageID := r.PathValue("messageId")
	if messageID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	a.syncer.MessageDeleted(r.Context(), chatID, messageID, deleter)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) MemberLeftHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authedIdentity(w, r); !ok {
		return
	}
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}
	userID, err := chat.ParseIdentity(r.PathValue("userId"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	a.syncer.MemberLeft(r.Context(), chatID, userID)
	w.WriteHeader(http.StatusNoContent)
}

// authedIdentity extracts and parses the authenticated identity, writing the
// error response itself when the request is unusable.
func (a *API) authedIdentity(w http.ResponseWriter, r *http.Request) (chat.Identity, bool) {
	subject, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		a.logger.Warn().Str("path", r.URL.Path).Msg("No identity in request context.")
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return 0, false
	}
	identity, err := chat.ParseIdentity(subject)
	if err != nil {
		a.logger.Error().Err(err).Str("subject", subject).Msg("Authenticated subject is not a valid identity.")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return 0, false
	}
	return identity, true
}
