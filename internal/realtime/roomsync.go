package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// Syncer keeps live connection group memberships in step with membership
// mutations coming from the REST surface, without requiring affected clients
// to reconnect. Every operation is cluster-wide: the hub applies it locally
// and relays it to the instances holding the other connections.
type Syncer struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewSyncer(hub *Hub, logger zerolog.Logger) *Syncer {
	return &Syncer{
		hub:    hub,
		logger: logger.With().Str("component", "RoomSyncer").Logger(),
	}
}

// ChatCreated joins every initial member's open connections to the new
// chat-group and announces the chat to everyone but the creator.
func (s *Syncer) ChatCreated(ctx context.Context, chatID chat.ChatID, name string, memberIDs []chat.Identity, creator chat.Identity) {
	for _, id := range memberIDs {
		s.hub.JoinIdentity(ctx, id, chat.ChatGroup(chatID))
	}

	ev, err := chat.NewEvent(chat.EventChatCreated, chat.ChatPayload{ChatID: chatID, Name: name})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build chat:created event.")
		return
	}
	s.hub.EmitToGroup(ctx, chat.ChatGroup(chatID), []chat.Group{chat.UserGroup(creator)}, ev)
}

// MemberJoined joins every open connection of the identity to the chat-group
// and announces the new member to the room.
func (s *Syncer) MemberJoined(ctx context.Context, chatID chat.ChatID, id chat.Identity, role string) {
	s.hub.JoinIdentity(ctx, id, chat.ChatGroup(chatID))

	ev, err := chat.NewEvent(chat.EventChatMemberAdded, chat.MemberPayload{
		ChatID:   chatID,
		UserID:   id,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build chat:member_added event.")
		return
	}
	s.hub.EmitToGroup(ctx, chat.ChatGroup(chatID), nil, ev)
}

// MemberLeft announces the departure to the room, then removes the
// identity's open connections from the chat-group. The departing member sees
// the announcement; nothing after it reaches them.
func (s *Syncer) MemberLeft(ctx context.Context, chatID chat.ChatID, id chat.Identity) {
	ev, err := chat.NewEvent(chat.EventChatMemberLeft, chat.MemberPayload{ChatID: chatID, UserID: id})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build chat:member_left event.")
	} else {
		s.hub.EmitToGroup(ctx, chat.ChatGroup(chatID), nil, ev)
	}

	s.hub.LeaveIdentity(ctx, id, chat.ChatGroup(chatID))
}

// ChatDeleted announces the deletion to everyone but the deleter, then
// force-removes every connection from the group.
func (s *Syncer) ChatDeleted(ctx context.Context, chatID chat.ChatID, deleter chat.Identity) {
	ev, err := chat.NewEvent(chat.EventChatDeleted, chat.ChatPayload{ChatID: chatID})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build chat:deleted event.")
	} else {
		s.hub.EmitToGroup(ctx, chat.ChatGroup(chatID), []chat.Group{chat.UserGroup(deleter)}, ev)
	}

	s.hub.ClearGroup(ctx, chat.ChatGroup(chatID))
}

// MessageDeleted announces a message deletion to the room, excluding the
// deleter's own connections. Membership is untouched.
func (s *Syncer) MessageDeleted(ctx context.Context, chatID chat.ChatID, messageID string, deleter chat.Identity) {
	ev, err := chat.NewEvent(chat.EventChatMessageDeleted, chat.MessagePayload{
		ChatID:    chatID,
		MessageID: messageID,
		SenderID:  deleter,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build chat:message_deleted event.")
		return
	}
	s.hub.EmitToGroup(ctx, chat.ChatGroup(chatID), []chat.Group{chat.UserGroup(deleter)}, ev)
}

// ChatUpdated announces a chat settings change to everyone but the updater.
// Membership is untouched.
func (s *Syncer) ChatUpdated(ctx context.Context, chatID chat.ChatID, name string, updater chat.Identity) {
	ev, err := chat.NewEvent(chat.EventChatUpdated, chat.ChatPayload{ChatID: chatID, Name: name})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build chat:update event.")
		return
	}
	s.hub.EmitToGroup(ctx, chat.ChatGroup(chatID), []chat.Group{chat.UserGroup(updater)}, ev)
}
