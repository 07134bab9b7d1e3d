package chat

import (
	"context"
	"time"
)

// MembershipStore is the durable source of truth for chat membership and
// block relationships. The realtime core only reads membership snapshots and
// writes last-active timestamps; all mutation goes through the REST CRUD.
type MembershipStore interface {
	// ChatIDsFor returns a point-in-time snapshot of the chats an identity
	// belongs to. Used once per connection at handshake.
	ChatIDsFor(ctx context.Context, id Identity) ([]ChatID, error)

	// SetLastActive records when an identity's last connection closed.
	SetLastActive(ctx context.Context, id Identity, t time.Time) error

	// IsBlocked reports whether a block relationship in either direction
	// prevents interaction between the two identities.
	IsBlocked(ctx context.Context, a, b Identity) (bool, error)
}

// NotificationStore persists notification records. Create is on the dispatch
// hot path and must succeed before any delivery attempt; the remaining
// operations back the peripheral CRUD endpoints.
type NotificationStore interface {
	Create(ctx context.Context, n Notification, recipients []Identity) (*NotificationRecord, error)
	MarkRead(ctx context.Context, recipient Identity, recordID string) error
	CountUnread(ctx context.Context, recipient Identity) (int64, error)
	Delete(ctx context.Context, recipient Identity, recordID string) error
}

// DeviceTokenStore maps identities to registered push tokens.
type DeviceTokenStore interface {
	TokensFor(ctx context.Context, ids []Identity) ([]DeviceToken, error)
	Register(ctx context.Context, token DeviceToken) error
	// DeleteToken removes a token the gateway reported as unregistered.
	DeleteToken(ctx context.Context, token string) error
}

// PushGateway delivers to offline recipients via their registered device
// tokens. Delivery is best-effort: per-token failures come back in the
// result, not as an error.
type PushGateway interface {
	SendMulticast(ctx context.Context, msg PushMessage, tokens []DeviceToken) (*MulticastResult, error)
}
