package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// ErrInteractionBlocked is returned when a block relationship prevents
// delivery between two identities.
var ErrInteractionBlocked = errors.New("interaction blocked between sender and recipient")

// ErrNotChatMember is returned when the sender does not belong to the chat
// they are sending to.
var ErrNotChatMember = errors.New("sender is not a member of the chat")

// Gate enforces the interaction policy at the REST boundary, before Dispatch
// is ever called. The fan-out engine itself never re-derives or caches block
// state: it trusts the recipient set it is handed.
type Gate struct {
	members chat.MembershipStore
}

func NewGate(members chat.MembershipStore) *Gate {
	return &Gate{members: members}
}

// CheckMember verifies the sender currently belongs to the chat. Removal from
// a chat revokes the ability to send to it immediately; there is no grace
// window based on a stale connection-time snapshot.
func (g *Gate) CheckMember(ctx context.Context, sender chat.Identity, chatID chat.ChatID) error {
	chatIDs, err := g.members.ChatIDsFor(ctx, sender)
	if err != nil {
		return fmt.Errorf("failed to check chat membership: %w", err)
	}
	for _, id := range chatIDs {
		if id == chatID {
			return nil
		}
	}
	return ErrNotChatMember
}

// Check verifies that no block relationship exists between the sender and
// any recipient. On the first blocked pair it returns ErrInteractionBlocked;
// the caller rejects the request and no notification record is created.
func (g *Gate) Check(ctx context.Context, sender chat.Identity, recipients []chat.Identity) error {
	for _, r := range recipients {
		if r == sender {
			continue
		}
		blocked, err := g.members.IsBlocked(ctx, sender, r)
		if err != nil {
			return fmt.Errorf("failed to check block state: %w", err)
		}
		if blocked {
			return ErrInteractionBlocked
		}
	}
	return nil
}
