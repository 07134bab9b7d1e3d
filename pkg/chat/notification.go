package chat

import "time"

// NotificationType classifies a notification for the client.
type NotificationType string

const (
	NotificationChat   NotificationType = "CHAT"
	NotificationSystem NotificationType = "SYSTEM"
)

// Notification is the immutable payload fanned out to a recipient set. The
// per-recipient read flag lives on the stored record, not here.
type Notification struct {
	Type    NotificationType  `json:"type"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Payload map[string]string `json:"payload,omitempty"`
	// SenderID is nil for system-originated notifications.
	SenderID *Identity `json:"senderId,omitempty"`
}

// NotificationRecord is the persisted form of a Notification, created once
// per dispatch before any delivery attempt.
type NotificationRecord struct {
	ID           string       `json:"id"`
	Notification Notification `json:"notification"`
	Recipients   []Identity   `json:"recipients"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// DeviceToken is a registered push token for one of an identity's devices.
type DeviceToken struct {
	Token    string   `json:"token"`
	Platform string   `json:"platform"` // e.g. "ios", "android"
	OwnerID  Identity `json:"ownerId"`
}

// PushMessage is the reduced payload handed to the push gateway. Structured
// data is limited to a flat string map because of gateway payload limits.
type PushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushResult reports the outcome of one token in a multicast send.
type PushResult struct {
	Token string
	// Unregistered marks tokens the gateway no longer recognises; the
	// caller deletes these from the device token store.
	Unregistered bool
	Err          error
}

// MulticastResult is the per-token outcome of a gateway send.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Results      []PushResult
}
