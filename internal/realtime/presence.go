package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/internal/platform/presence"
	"github.com/willowchat/realtime-service/pkg/chat"
)

// TransitionFunc is called on every presence boundary crossing (0→1 or 1→0)
// of an identity's connection count.
type TransitionFunc func(ctx context.Context, id chat.Identity, status chat.PresenceStatus)

// Tracker derives online/offline status from connection counts. An identity
// is online iff it holds at least one open connection somewhere in the
// cluster. Only boundary crossings of the local count fire transitions; a
// second simultaneous connection, or closing one of two, emits nothing.
//
// Each identity's count is guarded by its own lock, so concurrent connect and
// disconnect for one identity serialize and cannot double-fire a transition,
// while unrelated identities never contend.
type Tracker struct {
	mu     sync.Mutex
	states map[chat.Identity]*identityState

	index      presence.Index
	members    chat.MembershipStore
	instanceID string

	onTransition TransitionFunc
	logger       zerolog.Logger
}

type identityState struct {
	mu    sync.Mutex
	count int
}

func NewTracker(index presence.Index, members chat.MembershipStore, instanceID string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		states:     make(map[chat.Identity]*identityState),
		index:      index,
		members:    members,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "PresenceTracker").Logger(),
	}
}

// OnTransition sets the transition consumer. Must be called during wiring,
// before any connection is registered.
func (t *Tracker) OnTransition(fn TransitionFunc) { t.onTransition = fn }

// ConnectionOpened records one new connection for an identity.
func (t *Tracker) ConnectionOpened(ctx context.Context, id chat.Identity) {
	st := t.lockedState(id)
	defer st.mu.Unlock()

	st.count++
	if st.count != 1 {
		return
	}

	info := presence.ConnectionInfo{
		ServerInstanceID: t.instanceID,
		ConnectedAt:      time.Now().Unix(),
	}
	if err := t.index.Set(ctx, id, info); err != nil {
		t.logger.Warn().Err(err).Str("user", id.String()).
			Msg("Failed to write shared presence index; continuing with local state.")
	}
	t.fire(ctx, id, chat.StatusOnline)
}

// ConnectionClosed records one closed connection for an identity. On the last
// close it clears the shared index, stamps the identity's last-active time,
// and drops the identity's counter entry so the state map only holds
// identities with open connections.
func (t *Tracker) ConnectionClosed(ctx context.Context, id chat.Identity) {
	st := t.lockedState(id)
	defer st.mu.Unlock()

	if st.count == 0 {
		t.prune(id)
		return
	}
	st.count--
	if st.count != 0 {
		return
	}
	t.prune(id)

	if err := t.index.Delete(ctx, id); err != nil {
		t.logger.Warn().Err(err).Str("user", id.String()).
			Msg("Failed to clear shared presence index; continuing with local state.")
	}
	if err := t.members.SetLastActive(ctx, id, time.Now().UTC()); err != nil {
		t.logger.Warn().Err(err).Str("user", id.String()).
			Msg("Failed to record last-active timestamp.")
	}
	t.fire(ctx, id, chat.StatusOffline)
}

// IsOnline reports whether the identity holds at least one open connection.
// Local state answers immediately; otherwise the shared index covers
// connections held by other instances. An unreachable index degrades to the
// local answer.
func (t *Tracker) IsOnline(ctx context.Context, id chat.Identity) bool {
	if t.localCount(id) > 0 {
		return true
	}
	online, err := t.index.IsOnline(ctx, id)
	if err != nil {
		t.logger.Warn().Err(err).Str("user", id.String()).
			Msg("Shared presence index unavailable; assuming offline.")
		return false
	}
	return online
}

// Status returns the identity's presence as an event payload value.
func (t *Tracker) Status(ctx context.Context, id chat.Identity) chat.PresenceStatus {
	if t.IsOnline(ctx, id) {
		return chat.StatusOnline
	}
	return chat.StatusOffline
}

// Partition splits a recipient set into online and offline identities.
func (t *Tracker) Partition(ctx context.Context, ids []chat.Identity) (online, offline []chat.Identity) {
	for _, id := range ids {
		if t.IsOnline(ctx, id) {
			online = append(online, id)
		} else {
			offline = append(offline, id)
		}
	}
	return online, offline
}

func (t *Tracker) fire(ctx context.Context, id chat.Identity, status chat.PresenceStatus) {
	if t.onTransition == nil {
		return
	}
	t.onTransition(ctx, id, status)
}

func (t *Tracker) localCount(id chat.Identity) int {
	t.mu.Lock()
	st, ok := t.states[id]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.count
}

func (t *Tracker) state(id chat.Identity) *identityState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		st = &identityState{}
		t.states[id] = st
	}
	return st
}

// lockedState returns the identity's state entry with its lock held. An entry
// pruned between the map lookup and the lock acquisition must not be used:
// the counter the map now points at is a different one.
func (t *Tracker) lockedState(id chat.Identity) *identityState {
	for {
		st := t.state(id)
		st.mu.Lock()
		t.mu.Lock()
		current := t.states[id] == st
		t.mu.Unlock()
		if current {
			return st
		}
		st.mu.Unlock()
	}
}

func (t *Tracker) prune(id chat.Identity) {
	t.mu.Lock()
	delete(t.states, id)
	t.mu.Unlock()
}
