// Package presence provides the shared presence index: the cross-instance
// record of which identities currently hold at least one connection, and
// where. The in-process tracker writes through to it on 0↔1 transitions and
// falls back to local state when it is unreachable.
package presence

import (
	"context"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// ConnectionInfo is the value stored per identity: which instance registered
// the presence and when.
type ConnectionInfo struct {
	ServerInstanceID string `json:"serverInstanceId"`
	ConnectedAt      int64  `json:"connectedAt"`
}

// Index is the shared identity→presence map.
type Index interface {
	Set(ctx context.Context, id chat.Identity, info ConnectionInfo) error
	Delete(ctx context.Context, id chat.Identity) error
	IsOnline(ctx context.Context, id chat.Identity) (bool, error)
}
