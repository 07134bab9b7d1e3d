// Package chat contains the public domain types, event definitions, and
// store contracts for the realtime service. It defines the vocabulary the
// rest of the service speaks.
package chat

import (
	"fmt"
	"strconv"
)

// Identity is an opaque numeric user id. The service never interprets it;
// ownership of the account record lives in the membership store.
type Identity int64

// ParseIdentity converts the string form carried in auth tokens and API
// paths back into an Identity.
func ParseIdentity(s string) (Identity, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	return Identity(v), nil
}

func (id Identity) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ChatID names a chat room in the membership store.
type ChatID int64

func (c ChatID) String() string {
	return strconv.FormatInt(int64(c), 10)
}
