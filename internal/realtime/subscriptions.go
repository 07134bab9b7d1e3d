package realtime

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// Subscriptions manages watcher→watched-set presence subscriptions. A
// subscription is the watcher connection's membership in the watched
// identity's presence-group, so it is connection-scoped: it dies with the
// connection, and each connection resubscribes after a reconnect.
type Subscriptions struct {
	hub     *Hub
	tracker *Tracker
	logger  zerolog.Logger
}

func NewSubscriptions(hub *Hub, tracker *Tracker, logger zerolog.Logger) *Subscriptions {
	return &Subscriptions{
		hub:     hub,
		tracker: tracker,
		logger:  logger.With().Str("component", "PresenceSubscriptions").Logger(),
	}
}

// Subscribe joins the connection to each watched identity's presence-group
// and sends exactly one snapshot event on that connection listing every
// requested identity's current status. Identities with no history are
// offline.
func (s *Subscriptions) Subscribe(ctx context.Context, c *Conn, ids []chat.Identity) {
	if len(ids) == 0 {
		return
	}
	// Presence-group membership is local: the connection lives on this
	// instance, and transitions arrive here via the bus for local fanout.
	for _, id := range ids {
		s.hub.Registry().Join(c, chat.PresenceGroup(id))
	}

	entries := make([]chat.PresenceEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, chat.PresenceEntry{
			UserID: id,
			Status: s.tracker.Status(ctx, id),
		})
	}

	ev, err := chat.NewEvent(chat.EventPresenceUpdate, chat.PresenceUpdatePayload{Updates: entries})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build presence snapshot event.")
		return
	}
	if err := c.Send(ev); err != nil {
		s.logger.Warn().Err(err).Str("conn", c.ID()).Msg("Failed to deliver presence snapshot.")
	}
}

// Unsubscribe leaves the watched identities' presence-groups; no further
// events for those identities flow on this connection.
func (s *Subscriptions) Unsubscribe(_ context.Context, c *Conn, ids []chat.Identity) {
	for _, id := range ids {
		s.hub.Registry().Leave(c, chat.PresenceGroup(id))
	}
}

// HandleTransition broadcasts one presence change to the affected identity's
// presence-group across all instances. Wired as the tracker's transition
// consumer.
func (s *Subscriptions) HandleTransition(ctx context.Context, id chat.Identity, status chat.PresenceStatus) {
	payload := chat.PresenceUpdatePayload{
		Updates: []chat.PresenceEntry{{UserID: id, Status: status}},
	}
	ev, err := chat.NewEvent(chat.EventPresenceUpdate, payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build presence transition event.")
		return
	}
	s.hub.EmitToGroup(ctx, chat.PresenceGroup(id), nil, ev)
}
