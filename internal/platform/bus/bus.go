// Package bus provides the cross-instance command channel. Group joins,
// leaves, and live emits are applied to local connections first and then
// relayed over the bus so every other instance can apply them to the
// connections it holds. A down bus therefore degrades to local-only
// visibility; it never fails the triggering operation.
package bus

import (
	"context"
	"io"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// Kind tags a bus envelope.
type Kind string

const (
	// KindEmit delivers an event to every local member of a group,
	// minus connections in any of the Except groups.
	KindEmit Kind = "emit"
	// KindJoin joins every local connection of an identity to a group.
	KindJoin Kind = "join"
	// KindLeave removes every local connection of an identity from a group.
	KindLeave Kind = "leave"
	// KindClear removes every local member from a group.
	KindClear Kind = "clear"
)

// Envelope is one command on the bus. NodeID identifies the publishing
// instance; receivers drop their own envelopes since the publisher has
// already applied the command locally.
type Envelope struct {
	NodeID   string        `json:"nodeId"`
	Kind     Kind          `json:"kind"`
	Group    chat.Group    `json:"group,omitempty"`
	Except   []chat.Group  `json:"except,omitempty"`
	Identity chat.Identity `json:"identity,omitempty"`
	Event    *chat.Event   `json:"event,omitempty"`
}

// Handler consumes envelopes from the bus. Envelopes published by the
// handler's own node are filtered out before it is called.
type Handler func(Envelope)

// Bus is a shared broadcast channel reachable by every service instance.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers a handler for all envelopes published by other
	// nodes. The returned closer stops the subscription.
	Subscribe(ctx context.Context, nodeID string, handler Handler) (io.Closer, error)
}
