package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind tags a frame on the live channel. The set is closed: frames with
// an unknown kind are rejected at the boundary instead of being routed on a
// free-form string.
type EventKind string

// Server-emitted events.
const (
	EventNotificationNew    EventKind = "notification:new"
	EventPresenceUpdate     EventKind = "presence:update"
	EventChatCreated        EventKind = "chat:created"
	EventChatUpdated        EventKind = "chat:update"
	EventChatDeleted        EventKind = "chat:deleted"
	EventChatMemberAdded    EventKind = "chat:member_added"
	EventChatMemberLeft     EventKind = "chat:member_left"
	EventChatMessageCreated EventKind = "chat:message_created"
	EventChatMessageDeleted EventKind = "chat:message_deleted"
)

// Client-emitted events.
const (
	EventPresenceSubscribe   EventKind = "presence:subscribe"
	EventPresenceUnsubscribe EventKind = "presence:unsubscribe"
)

// Event is one frame on the live channel.
type Event struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals a typed payload into a frame.
func NewEvent(kind EventKind, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Data: data}, nil
}

// PresenceStatus is the derived online/offline state of an identity.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceEntry is one identity's status inside a presence:update payload.
type PresenceEntry struct {
	UserID Identity       `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// PresenceUpdatePayload is the payload of presence:update. Snapshot events
// (sent once per subscribe) carry every requested identity; transition events
// carry exactly the one identity that crossed the boundary.
type PresenceUpdatePayload struct {
	Updates []PresenceEntry `json:"updates"`
}

// PresenceSubscribePayload is the payload of presence:subscribe and
// presence:unsubscribe.
type PresenceSubscribePayload struct {
	UserIDs []Identity `json:"userIds"`
}

// MemberPayload is the payload of chat:member_added and chat:member_left.
type MemberPayload struct {
	ChatID   ChatID    `json:"chatId"`
	UserID   Identity  `json:"userId"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joinedAt,omitzero"`
}

// MessagePayload is the payload of chat:message_created and
// chat:message_deleted. It carries a preview, not the message body; clients
// fetch full content over the REST surface.
type MessagePayload struct {
	ChatID    ChatID   `json:"chatId"`
	MessageID string   `json:"messageId"`
	SenderID  Identity `json:"senderId"`
	Preview   string   `json:"preview,omitempty"`
}

// ChatPayload is the payload of chat:created, chat:update and chat:deleted.
type ChatPayload struct {
	ChatID ChatID `json:"chatId"`
	Name   string `json:"name,omitempty"`
}
