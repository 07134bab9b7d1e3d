package realtime

import (
	"sync"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// Registry tracks every live connection on this instance, indexed by id,
// identity, and group. It is the only component that mutates connection→group
// membership; everything else (syncer, subscriptions, manager) issues join
// and leave intents through it, which keeps a disconnect and a concurrent
// membership mutation for the same connection from racing.
type Registry struct {
	mu sync.RWMutex

	byID       map[string]*Conn
	byIdentity map[chat.Identity]map[string]*Conn
	byGroup    map[chat.Group]map[string]*Conn
	connGroups map[string]map[chat.Group]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*Conn),
		byIdentity: make(map[chat.Identity]map[string]*Conn),
		byGroup:    make(map[chat.Group]map[string]*Conn),
		connGroups: make(map[string]map[chat.Group]struct{}),
	}
}

// Add records a connection and joins it to its identity-group.
func (r *Registry) Add(c *Conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	r.byID[id] = c
	if _, ok := r.byIdentity[c.Identity()]; !ok {
		r.byIdentity[c.Identity()] = make(map[string]*Conn)
	}
	r.byIdentity[c.Identity()][id] = c
	r.joinLocked(c, chat.UserGroup(c.Identity()))
}

// Remove deletes a connection and leaves every group it was in.
func (r *Registry) Remove(c *Conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	delete(r.byID, id)

	if conns, ok := r.byIdentity[c.Identity()]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.byIdentity, c.Identity())
		}
	}

	for g := range r.connGroups[id] {
		r.leaveGroupLocked(id, g)
	}
	delete(r.connGroups, id)
}

// Join adds one connection to a group.
func (r *Registry) Join(c *Conn, g chat.Group) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// A connection removed by a concurrent disconnect must not be
	// resurrected into the group index.
	if _, ok := r.byID[c.ID()]; !ok {
		return
	}
	r.joinLocked(c, g)
}

// Leave removes one connection from a group.
func (r *Registry) Leave(c *Conn, g chat.Group) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveGroupLocked(c.ID(), g)
	if groups, ok := r.connGroups[c.ID()]; ok {
		delete(groups, g)
	}
}

// JoinIdentity joins every open connection of an identity to a group.
func (r *Registry) JoinIdentity(id chat.Identity, g chat.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byIdentity[id] {
		r.joinLocked(c, g)
	}
}

// LeaveIdentity removes every open connection of an identity from a group.
func (r *Registry) LeaveIdentity(id chat.Identity, g chat.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.byIdentity[id] {
		r.leaveGroupLocked(connID, g)
		if groups, ok := r.connGroups[connID]; ok {
			delete(groups, g)
		}
	}
}

// ClearGroup removes every member from a group (chat deleted).
func (r *Registry) ClearGroup(g chat.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.byGroup[g] {
		if groups, ok := r.connGroups[connID]; ok {
			delete(groups, g)
		}
	}
	delete(r.byGroup, g)
}

// Members returns a copy of the group's member connections.
func (r *Registry) Members(g chat.Group) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.byGroup[g]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// ByIdentity returns a copy of the identity's open connections.
func (r *Registry) ByIdentity(id chat.Identity) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byIdentity[id]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// ConnCount reports how many open connections an identity holds here.
func (r *Registry) ConnCount(id chat.Identity) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[id])
}

// Count reports the total number of open connections on this instance.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns a copy of every open connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// Groups returns a copy of the groups one connection belongs to.
func (r *Registry) Groups(connID string) []chat.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := r.connGroups[connID]
	if len(groups) == 0 {
		return nil
	}
	out := make([]chat.Group, 0, len(groups))
	for g := range groups {
		out = append(out, g)
	}
	return out
}

func (r *Registry) joinLocked(c *Conn, g chat.Group) {
	id := c.ID()
	if _, ok := r.byGroup[g]; !ok {
		r.byGroup[g] = make(map[string]*Conn)
	}
	r.byGroup[g][id] = c
	if _, ok := r.connGroups[id]; !ok {
		r.connGroups[id] = make(map[chat.Group]struct{})
	}
	r.connGroups[id][g] = struct{}{}
}

func (r *Registry) leaveGroupLocked(connID string, g chat.Group) {
	if members, ok := r.byGroup[g]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.byGroup, g)
		}
	}
}
