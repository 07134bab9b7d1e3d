package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willowchat/realtime-service/internal/platform/persistence"
	"github.com/willowchat/realtime-service/internal/test/fakes"
	"github.com/willowchat/realtime-service/pkg/chat"
)

// stubPartitioner reports a fixed set of identities as online.
type stubPartitioner struct {
	online map[chat.Identity]bool
}

func (p *stubPartitioner) Partition(_ context.Context, ids []chat.Identity) (online, offline []chat.Identity) {
	for _, id := range ids {
		if p.online[id] {
			online = append(online, id)
		} else {
			offline = append(offline, id)
		}
	}
	return online, offline
}

// recordingEmitter captures per-identity live emissions.
type recordingEmitter struct {
	mu     sync.Mutex
	events map[chat.Identity][]chat.Event
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{events: make(map[chat.Identity][]chat.Event)}
}

func (e *recordingEmitter) EmitToIdentity(_ context.Context, id chat.Identity, ev chat.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[id] = append(e.events[id], ev)
}

func (e *recordingEmitter) eventsFor(id chat.Identity) []chat.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]chat.Event(nil), e.events[id]...)
}

type engineFixture struct {
	engine        *Engine
	notifications *persistence.MemoryNotificationStore
	tokens        *persistence.MemoryDeviceTokenStore
	gateway       *fakes.PushGateway
	emitter       *recordingEmitter
	partitioner   *stubPartitioner
}

func newEngineFixture(t *testing.T, online ...chat.Identity) *engineFixture {
	t.Helper()
	onlineSet := make(map[chat.Identity]bool, len(online))
	for _, id := range online {
		onlineSet[id] = true
	}

	fx := &engineFixture{
		notifications: persistence.NewMemoryNotificationStore(),
		tokens:        persistence.NewMemoryDeviceTokenStore(),
		gateway:       fakes.NewPushGateway(zerolog.Nop()),
		emitter:       newRecordingEmitter(),
		partitioner:   &stubPartitioner{online: onlineSet},
	}
	fx.engine = NewEngine(fx.notifications, fx.tokens, fx.gateway, fx.partitioner, fx.emitter, zerolog.Nop())
	return fx
}

func testNotification() chat.Notification {
	sender := chat.Identity(1)
	return chat.Notification{
		Type:     chat.NotificationChat,
		Title:    "New message",
		Body:     "hello",
		SenderID: &sender,
	}
}

func TestEngine_DispatchSplitsLiveAndPush(t *testing.T) {
	fx := newEngineFixture(t, 2, 3) // 2 and 3 online, 4 offline
	ctx := context.Background()

	require.NoError(t, fx.tokens.Register(ctx, chat.DeviceToken{Token: "tok-4", Platform: "ios", OwnerID: 4}))

	record, err := fx.engine.Dispatch(ctx, testNotification(), []chat.Identity{2, 3, 4}, DispatchOptions{})
	require.NoError(t, err)
	require.NotNil(t, record)

	// The record was persisted with the full recipient set.
	stored, ok := fx.notifications.Record(record.ID)
	require.True(t, ok)
	assert.ElementsMatch(t, []chat.Identity{2, 3, 4}, stored.Recipients)

	// Online recipients got a live event, synchronously.
	require.Len(t, fx.emitter.eventsFor(2), 1)
	require.Len(t, fx.emitter.eventsFor(3), 1)
	assert.Equal(t, chat.EventNotificationNew, fx.emitter.eventsFor(2)[0].Kind)
	assert.Empty(t, fx.emitter.eventsFor(4))

	// The offline recipient got a push, asynchronously.
	fx.engine.Wait()
	sent := fx.gateway.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Tokens, 1)
	assert.Equal(t, "tok-4", sent[0].Tokens[0].Token)
	assert.Equal(t, "New message", sent[0].Message.Title)
}

func TestEngine_EmptyRecipientsRejected(t *testing.T) {
	fx := newEngineFixture(t)

	record, err := fx.engine.Dispatch(context.Background(), testNotification(), nil, DispatchOptions{})
	require.ErrorIs(t, err, ErrNoRecipients)
	assert.Nil(t, record)
}

func TestEngine_PersistFailureIsFatal(t *testing.T) {
	fx := newEngineFixture(t, 2)
	fx.engine.notifications = &failingNotificationStore{}

	record, err := fx.engine.Dispatch(context.Background(), testNotification(), []chat.Identity{2}, DispatchOptions{})
	require.Error(t, err)
	assert.Nil(t, record)
	assert.Empty(t, fx.emitter.eventsFor(2), "no delivery may happen before the record exists")
}

func TestEngine_LiveOverrideReplacesPerRecipientPath(t *testing.T) {
	fx := newEngineFixture(t, 2, 3)
	ctx := context.Background()

	var overrideCalls int
	opts := DispatchOptions{
		Live: func(_ context.Context, record *chat.NotificationRecord) {
			overrideCalls++
			assert.NotEmpty(t, record.ID)
		},
	}

	_, err := fx.engine.Dispatch(ctx, testNotification(), []chat.Identity{2, 3}, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, overrideCalls, "override runs once for the whole online partition")
	assert.Empty(t, fx.emitter.eventsFor(2))
	assert.Empty(t, fx.emitter.eventsFor(3))
}

func TestEngine_ExcludeIdentitySuppressesSenderEcho(t *testing.T) {
	fx := newEngineFixture(t, 1, 2)
	sender := chat.Identity(1)

	_, err := fx.engine.Dispatch(context.Background(), testNotification(), []chat.Identity{1, 2},
		DispatchOptions{ExcludeIdentity: &sender})
	require.NoError(t, err)

	assert.Empty(t, fx.emitter.eventsFor(1))
	assert.Len(t, fx.emitter.eventsFor(2), 1)
}

func TestEngine_NoTokensIsSilentSkip(t *testing.T) {
	fx := newEngineFixture(t) // everyone offline, nobody registered a token

	_, err := fx.engine.Dispatch(context.Background(), testNotification(), []chat.Identity{4}, DispatchOptions{})
	require.NoError(t, err)

	fx.engine.Wait()
	assert.Empty(t, fx.gateway.Sent(), "no gateway call without tokens")
}

func TestEngine_UnregisteredTokenIsDeleted(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.tokens.Register(ctx, chat.DeviceToken{Token: "tok-stale", Platform: "android", OwnerID: 4}))
	require.NoError(t, fx.tokens.Register(ctx, chat.DeviceToken{Token: "tok-good", Platform: "ios", OwnerID: 4}))
	fx.gateway.MarkUnregistered("tok-stale")

	_, err := fx.engine.Dispatch(ctx, testNotification(), []chat.Identity{4}, DispatchOptions{})
	require.NoError(t, err)
	fx.engine.Wait()

	remaining, err := fx.tokens.TokensFor(ctx, []chat.Identity{4})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "tok-good", remaining[0].Token)
}

func TestEngine_TransientTokenFailureKeepsToken(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.tokens.Register(ctx, chat.DeviceToken{Token: "tok-flaky", Platform: "ios", OwnerID: 4}))
	fx.gateway.FailToken("tok-flaky", assert.AnError)

	record, err := fx.engine.Dispatch(ctx, testNotification(), []chat.Identity{4}, DispatchOptions{})
	require.NoError(t, err, "push failures never surface to the caller")
	require.NotNil(t, record)
	fx.engine.Wait()

	remaining, err := fx.tokens.TokensFor(ctx, []chat.Identity{4})
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "transient failures must not trigger token cleanup")
}

func TestEngine_PushRunsOnDetachedContext(t *testing.T) {
	fx := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, fx.tokens.Register(ctx, chat.DeviceToken{Token: "tok-4", Platform: "ios", OwnerID: 4}))

	_, err := fx.engine.Dispatch(ctx, testNotification(), []chat.Identity{4}, DispatchOptions{})
	require.NoError(t, err)
	cancel() // the request context ending must not abort the push

	fx.engine.Wait()
	require.Eventually(t, func() bool {
		return len(fx.gateway.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type failingNotificationStore struct{}

func (s *failingNotificationStore) Create(context.Context, chat.Notification, []chat.Identity) (*chat.NotificationRecord, error) {
	return nil, assert.AnError
}
func (s *failingNotificationStore) MarkRead(context.Context, chat.Identity, string) error {
	return assert.AnError
}
func (s *failingNotificationStore) CountUnread(context.Context, chat.Identity) (int64, error) {
	return 0, assert.AnError
}
func (s *failingNotificationStore) Delete(context.Context, chat.Identity, string) error {
	return assert.AnError
}
