package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willowchat/realtime-service/pkg/chat"
)

func TestRegistry_AddJoinsIdentityGroup(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestConn(t, "c1", 1)

	r.Add(c)

	require.Len(t, r.Members(chat.UserGroup(1)), 1)
	assert.Equal(t, 1, r.ConnCount(1))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_MultiDeviceIdentity(t *testing.T) {
	r := NewRegistry()
	c1, _ := newTestConn(t, "c1", 1)
	c2, _ := newTestConn(t, "c2", 1)

	r.Add(c1)
	r.Add(c2)
	assert.Len(t, r.Members(chat.UserGroup(1)), 2)
	assert.Equal(t, 2, r.ConnCount(1))

	r.Remove(c1)
	assert.Len(t, r.Members(chat.UserGroup(1)), 1)
	assert.Equal(t, 1, r.ConnCount(1))
}

func TestRegistry_RemoveLeavesAllGroups(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestConn(t, "c1", 1)
	r.Add(c)
	r.Join(c, chat.ChatGroup(10))
	r.Join(c, chat.PresenceGroup(2))
	require.Len(t, r.Groups("c1"), 3)

	r.Remove(c)

	assert.Empty(t, r.Members(chat.ChatGroup(10)))
	assert.Empty(t, r.Members(chat.PresenceGroup(2)))
	assert.Empty(t, r.Members(chat.UserGroup(1)))
	assert.Empty(t, r.Groups("c1"))
	assert.Zero(t, r.Count())
}

func TestRegistry_JoinAfterRemoveIsIgnored(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestConn(t, "c1", 1)
	r.Add(c)
	r.Remove(c)

	// A concurrent membership mutation must not resurrect a disconnected
	// connection into the group index.
	r.Join(c, chat.ChatGroup(10))
	assert.Empty(t, r.Members(chat.ChatGroup(10)))
}

func TestRegistry_JoinIdentityCoversAllConnections(t *testing.T) {
	r := NewRegistry()
	c1, _ := newTestConn(t, "c1", 1)
	c2, _ := newTestConn(t, "c2", 1)
	c3, _ := newTestConn(t, "c3", 2)
	r.Add(c1)
	r.Add(c2)
	r.Add(c3)

	r.JoinIdentity(1, chat.ChatGroup(10))
	assert.Len(t, r.Members(chat.ChatGroup(10)), 2)

	r.LeaveIdentity(1, chat.ChatGroup(10))
	assert.Empty(t, r.Members(chat.ChatGroup(10)))
}

func TestRegistry_ClearGroup(t *testing.T) {
	r := NewRegistry()
	c1, _ := newTestConn(t, "c1", 1)
	c2, _ := newTestConn(t, "c2", 2)
	r.Add(c1)
	r.Add(c2)
	r.Join(c1, chat.ChatGroup(10))
	r.Join(c2, chat.ChatGroup(10))

	r.ClearGroup(chat.ChatGroup(10))

	assert.Empty(t, r.Members(chat.ChatGroup(10)))
	assert.NotContains(t, r.Groups("c1"), chat.ChatGroup(10))
	// Identity groups are untouched.
	assert.Len(t, r.Members(chat.UserGroup(1)), 1)
}
