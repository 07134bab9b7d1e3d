package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willowchat/realtime-service/pkg/chat"
)

type envelopeRecorder struct {
	mu   sync.Mutex
	seen []Envelope
}

func (r *envelopeRecorder) handle(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, env)
}

func (r *envelopeRecorder) envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.seen...)
}

func TestMemoryBus_DeliversToOtherNodes(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var nodeB, nodeC envelopeRecorder
	_, err := b.Subscribe(ctx, "node-b", nodeB.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "node-c", nodeC.handle)
	require.NoError(t, err)

	env := Envelope{NodeID: "node-a", Kind: KindJoin, Group: chat.ChatGroup(10), Identity: 1}
	require.NoError(t, b.Publish(ctx, env))

	require.Len(t, nodeB.envelopes(), 1)
	require.Len(t, nodeC.envelopes(), 1)
	assert.Equal(t, env, nodeB.envelopes()[0])
}

func TestMemoryBus_SkipsPublishingNode(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var self, other envelopeRecorder
	_, err := b.Subscribe(ctx, "node-a", self.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "node-b", other.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, Envelope{NodeID: "node-a", Kind: KindClear, Group: chat.ChatGroup(10)}))

	assert.Empty(t, self.envelopes(), "a node never receives its own envelopes")
	assert.Len(t, other.envelopes(), 1)
}

func TestMemoryBus_CloserStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var rec envelopeRecorder
	closer, err := b.Subscribe(ctx, "node-b", rec.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, Envelope{NodeID: "node-a", Kind: KindClear, Group: chat.ChatGroup(10)}))
	require.Len(t, rec.envelopes(), 1)

	require.NoError(t, closer.Close())
	require.NoError(t, b.Publish(ctx, Envelope{NodeID: "node-a", Kind: KindClear, Group: chat.ChatGroup(10)}))
	assert.Len(t, rec.envelopes(), 1, "no delivery after the subscription is closed")
}

func TestMemoryBus_PublishHonoursCancelledContext(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Publish(ctx, Envelope{NodeID: "node-a", Kind: KindEmit})
	assert.ErrorIs(t, err, context.Canceled)
}
