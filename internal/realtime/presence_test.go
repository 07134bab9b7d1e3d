package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willowchat/realtime-service/internal/platform/persistence"
	"github.com/willowchat/realtime-service/internal/platform/presence"
	"github.com/willowchat/realtime-service/pkg/chat"
)

type recordedTransition struct {
	id     chat.Identity
	status chat.PresenceStatus
}

func newTestTracker(t *testing.T) (*Tracker, *persistence.MemoryMembershipStore, *[]recordedTransition) {
	t.Helper()
	members := persistence.NewMemoryMembershipStore()
	tracker := NewTracker(presence.NewMemoryIndex(), members, "instance-1", zerolog.Nop())

	var mu sync.Mutex
	transitions := &[]recordedTransition{}
	tracker.OnTransition(func(_ context.Context, id chat.Identity, status chat.PresenceStatus) {
		mu.Lock()
		defer mu.Unlock()
		*transitions = append(*transitions, recordedTransition{id: id, status: status})
	})
	return tracker, members, transitions
}

func TestTracker_OnlyBoundaryCrossingsFire(t *testing.T) {
	tracker, _, transitions := newTestTracker(t)
	ctx := context.Background()

	tracker.ConnectionOpened(ctx, 1)
	tracker.ConnectionOpened(ctx, 1) // second device: no transition
	tracker.ConnectionClosed(ctx, 1) // one of two closes: no transition
	tracker.ConnectionClosed(ctx, 1) // last close: offline

	require.Len(t, *transitions, 2)
	assert.Equal(t, recordedTransition{1, chat.StatusOnline}, (*transitions)[0])
	assert.Equal(t, recordedTransition{1, chat.StatusOffline}, (*transitions)[1])
}

func TestTracker_LastCloseStampsLastActive(t *testing.T) {
	tracker, members, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.ConnectionOpened(ctx, 1)
	_, ok := members.LastActive(1)
	assert.False(t, ok, "last-active must only be written on the final close")

	tracker.ConnectionClosed(ctx, 1)
	_, ok = members.LastActive(1)
	assert.True(t, ok)
}

func TestTracker_StateEntriesArePruned(t *testing.T) {
	tracker, _, transitions := newTestTracker(t)
	ctx := context.Background()

	tracker.ConnectionOpened(ctx, 1)
	tracker.ConnectionClosed(ctx, 1)
	tracker.ConnectionClosed(ctx, 2) // close with no open must not leave an entry

	tracker.mu.Lock()
	entries := len(tracker.states)
	tracker.mu.Unlock()
	assert.Zero(t, entries, "identities without open connections must not accumulate state")

	// A reconnect after pruning still crosses the boundary.
	tracker.ConnectionOpened(ctx, 1)
	require.Len(t, *transitions, 3)
	assert.Equal(t, recordedTransition{1, chat.StatusOnline}, (*transitions)[2])
}

func TestTracker_CloseWithoutOpenIsIgnored(t *testing.T) {
	tracker, _, transitions := newTestTracker(t)
	tracker.ConnectionClosed(context.Background(), 1)
	assert.Empty(t, *transitions)
}

func TestTracker_Partition(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.ConnectionOpened(ctx, 1)
	tracker.ConnectionOpened(ctx, 3)

	online, offline := tracker.Partition(ctx, []chat.Identity{1, 2, 3, 4})
	assert.ElementsMatch(t, []chat.Identity{1, 3}, online)
	assert.ElementsMatch(t, []chat.Identity{2, 4}, offline)
}

func TestTracker_SharedIndexCoversRemoteInstances(t *testing.T) {
	// Two trackers share one index, as two instances share redis.
	index := presence.NewMemoryIndex()
	members := persistence.NewMemoryMembershipStore()
	trackerA := NewTracker(index, members, "instance-a", zerolog.Nop())
	trackerB := NewTracker(index, members, "instance-b", zerolog.Nop())
	ctx := context.Background()

	trackerA.ConnectionOpened(ctx, 1)

	assert.True(t, trackerB.IsOnline(ctx, 1), "identity connected on another instance must read online")

	trackerA.ConnectionClosed(ctx, 1)
	assert.False(t, trackerB.IsOnline(ctx, 1))
}

func TestTracker_IndexFailureDegradesToLocal(t *testing.T) {
	members := persistence.NewMemoryMembershipStore()
	tracker := NewTracker(&failingIndex{}, members, "instance-1", zerolog.Nop())
	ctx := context.Background()

	// Opening still works and the local answer stands.
	tracker.ConnectionOpened(ctx, 1)
	assert.True(t, tracker.IsOnline(ctx, 1))
	assert.False(t, tracker.IsOnline(ctx, 2), "unreachable index reads as offline")
}

func TestTracker_ConcurrentConnectsFireOnce(t *testing.T) {
	tracker, _, transitions := newTestTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.ConnectionOpened(ctx, 1)
		}()
	}
	wg.Wait()

	require.Len(t, *transitions, 1)
	assert.Equal(t, chat.StatusOnline, (*transitions)[0].status)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.ConnectionClosed(ctx, 1)
		}()
	}
	wg.Wait()

	require.Len(t, *transitions, 2)
	assert.Equal(t, chat.StatusOffline, (*transitions)[1].status)
}

type failingIndex struct{}

func (f *failingIndex) Set(context.Context, chat.Identity, presence.ConnectionInfo) error {
	return assert.AnError
}
func (f *failingIndex) Delete(context.Context, chat.Identity) error { return assert.AnError }
func (f *failingIndex) IsOnline(context.Context, chat.Identity) (bool, error) {
	return false, assert.AnError
}
