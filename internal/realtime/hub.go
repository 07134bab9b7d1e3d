package realtime

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/internal/platform/bus"
	"github.com/willowchat/realtime-service/pkg/chat"
)

// Hub is the emitting facade over the registry. Every operation applies to
// local connections first, then relays a command over the bus so other
// instances can apply it to theirs. Bus publish failures are absorbed: the
// operation already succeeded locally and degrades to local-only visibility.
//
// The hub is constructed once at process start and injected into every
// component that emits; nothing reaches it through a package-level variable.
type Hub struct {
	registry *Registry
	bus      bus.Bus
	nodeID   string
	logger   zerolog.Logger
}

func NewHub(registry *Registry, b bus.Bus, nodeID string, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		bus:      b,
		nodeID:   nodeID,
		logger:   logger.With().Str("component", "Hub").Str("node", nodeID).Logger(),
	}
}

// Registry exposes the underlying local registry for connection lifecycle
// management by the connection manager.
func (h *Hub) Registry() *Registry { return h.registry }

// Start subscribes the hub to the cluster bus. The returned closer stops the
// subscription on shutdown.
func (h *Hub) Start(ctx context.Context) (io.Closer, error) {
	return h.bus.Subscribe(ctx, h.nodeID, h.handle)
}

// EmitToGroup delivers an event to every member of a group, on every
// instance, excluding connections that belong to any of the except groups.
func (h *Hub) EmitToGroup(ctx context.Context, g chat.Group, except []chat.Group, ev chat.Event) {
	h.emitLocal(g, except, ev)
	h.publish(ctx, bus.Envelope{Kind: bus.KindEmit, Group: g, Except: except, Event: &ev})
}

// EmitToIdentity delivers an event to every connection of one identity.
func (h *Hub) EmitToIdentity(ctx context.Context, id chat.Identity, ev chat.Event) {
	h.EmitToGroup(ctx, chat.UserGroup(id), nil, ev)
}

// JoinIdentity joins every open connection of an identity, cluster-wide, to
// a group.
func (h *Hub) JoinIdentity(ctx context.Context, id chat.Identity, g chat.Group) {
	h.registry.JoinIdentity(id, g)
	h.publish(ctx, bus.Envelope{Kind: bus.KindJoin, Identity: id, Group: g})
}

// LeaveIdentity removes every open connection of an identity, cluster-wide,
// from a group.
func (h *Hub) LeaveIdentity(ctx context.Context, id chat.Identity, g chat.Group) {
	h.registry.LeaveIdentity(id, g)
	h.publish(ctx, bus.Envelope{Kind: bus.KindLeave, Identity: id, Group: g})
}

// ClearGroup force-removes every member of a group, cluster-wide.
func (h *Hub) ClearGroup(ctx context.Context, g chat.Group) {
	h.registry.ClearGroup(g)
	h.publish(ctx, bus.Envelope{Kind: bus.KindClear, Group: g})
}

// emitLocal writes the event to local members of the group, skipping
// connections that are also members of an except group.
func (h *Hub) emitLocal(g chat.Group, except []chat.Group, ev chat.Event) {
	var excluded map[string]struct{}
	if len(except) > 0 {
		excluded = make(map[string]struct{})
		for _, eg := range except {
			for _, c := range h.registry.Members(eg) {
				excluded[c.ID()] = struct{}{}
			}
		}
	}

	for _, c := range h.registry.Members(g) {
		if _, skip := excluded[c.ID()]; skip {
			continue
		}
		if err := c.Send(ev); err != nil {
			h.logger.Warn().Err(err).
				Str("conn", c.ID()).
				Str("group", g.String()).
				Str("event", string(ev.Kind)).
				Msg("Dropped event for connection.")
		}
	}
}

func (h *Hub) publish(ctx context.Context, env bus.Envelope) {
	env.NodeID = h.nodeID
	if err := h.bus.Publish(ctx, env); err != nil {
		h.logger.Warn().Err(err).Str("kind", string(env.Kind)).
			Msg("Bus publish failed; continuing with local-only delivery.")
	}
}

// handle applies a command relayed from another instance to the local
// registry. It never republishes.
func (h *Hub) handle(env bus.Envelope) {
	switch env.Kind {
	case bus.KindEmit:
		if env.Event == nil {
			h.logger.Warn().Msg("Emit envelope without event, skipping.")
			return
		}
		h.emitLocal(env.Group, env.Except, *env.Event)
	case bus.KindJoin:
		h.registry.JoinIdentity(env.Identity, env.Group)
	case bus.KindLeave:
		h.registry.LeaveIdentity(env.Identity, env.Group)
	case bus.KindClear:
		h.registry.ClearGroup(env.Group)
	default:
		h.logger.Warn().Str("kind", string(env.Kind)).Msg("Unknown bus envelope kind, skipping.")
	}
}
