package chat

// Group is a named broadcast target. Any number of connections may be joined
// to a group; a group's members are derived from the connection registry, not
// stored separately.
type Group string

// Group keys are plain strings on the wire and in the bus envelopes. All
// producers and consumers of a key must go through the constructors below so
// the formats cannot drift apart.

// UserGroup is the identity-group every connection joins at handshake.
func UserGroup(id Identity) Group {
	return Group("user:" + id.String())
}

// ChatGroup is the broadcast target for one chat room.
func ChatGroup(chatID ChatID) Group {
	return Group("chat:" + chatID.String())
}

// PresenceGroup collects the watchers of one identity's online status.
func PresenceGroup(watched Identity) Group {
	return Group("presence:" + watched.String())
}

func (g Group) String() string { return string(g) }
