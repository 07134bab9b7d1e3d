package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// MemoryMembershipStore is the in-memory chat.MembershipStore used for local
// development and tests.
type MemoryMembershipStore struct {
	mu         sync.RWMutex
	chats      map[chat.Identity][]chat.ChatID
	blocked    map[chat.Identity]map[chat.Identity]bool
	lastActive map[chat.Identity]time.Time
}

func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{
		chats:      make(map[chat.Identity][]chat.ChatID),
		blocked:    make(map[chat.Identity]map[chat.Identity]bool),
		lastActive: make(map[chat.Identity]time.Time),
	}
}

// AddMembership seeds a chat membership. Test and local-mode setup only.
func (s *MemoryMembershipStore) AddMembership(id chat.Identity, chatID chat.ChatID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[id] = append(s.chats[id], chatID)
}

// SetBlocked seeds a directed block from blocker to target.
func (s *MemoryMembershipStore) SetBlocked(blocker, target chat.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked[blocker] == nil {
		s.blocked[blocker] = make(map[chat.Identity]bool)
	}
	s.blocked[blocker][target] = true
}

func (s *MemoryMembershipStore) ChatIDsFor(_ context.Context, id chat.Identity) ([]chat.ChatID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.ChatID, len(s.chats[id]))
	copy(out, s.chats[id])
	return out, nil
}

func (s *MemoryMembershipStore) SetLastActive(_ context.Context, id chat.Identity, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive[id] = t
	return nil
}

// LastActive returns the recorded last-active time, if any.
func (s *MemoryMembershipStore) LastActive(id chat.Identity) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastActive[id]
	return t, ok
}

func (s *MemoryMembershipStore) IsBlocked(_ context.Context, a, b chat.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocked[a][b] || s.blocked[b][a], nil
}

type memoryNotification struct {
	record chat.NotificationRecord
	read   map[chat.Identity]bool
}

// MemoryNotificationStore is the in-memory chat.NotificationStore.
type MemoryNotificationStore struct {
	mu      sync.RWMutex
	records map[string]*memoryNotification
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{records: make(map[string]*memoryNotification)}
}

func (s *MemoryNotificationStore) Create(_ context.Context, n chat.Notification, recipients []chat.Identity) (*chat.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := chat.NotificationRecord{
		ID:           uuid.NewString(),
		Notification: n,
		Recipients:   append([]chat.Identity(nil), recipients...),
		CreatedAt:    time.Now().UTC(),
	}
	s.records[record.ID] = &memoryNotification{
		record: record,
		read:   make(map[chat.Identity]bool),
	}
	return &record, nil
}

func (s *MemoryNotificationStore) MarkRead(_ context.Context, recipient chat.Identity, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[recordID]
	if !ok {
		return fmt.Errorf("notification %s not found", recordID)
	}
	stored.read[recipient] = true
	return nil
}

func (s *MemoryNotificationStore) CountUnread(_ context.Context, recipient chat.Identity) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, stored := range s.records {
		for _, r := range stored.record.Recipients {
			if r == recipient && !stored.read[recipient] {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *MemoryNotificationStore) Delete(_ context.Context, recipient chat.Identity, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[recordID]
	if !ok {
		return fmt.Errorf("notification %s not found", recordID)
	}

	// Deleting removes the recipient's copy; the record itself goes away
	// once no recipient holds it.
	kept := stored.record.Recipients[:0]
	for _, r := range stored.record.Recipients {
		if r != recipient {
			kept = append(kept, r)
		}
	}
	stored.record.Recipients = kept
	if len(kept) == 0 {
		delete(s.records, recordID)
	}
	return nil
}

// Record returns a stored record by ID. Test helper.
func (s *MemoryNotificationStore) Record(recordID string) (*chat.NotificationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.records[recordID]
	if !ok {
		return nil, false
	}
	record := stored.record
	return &record, true
}

// MemoryDeviceTokenStore is the in-memory chat.DeviceTokenStore.
type MemoryDeviceTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]chat.DeviceToken
}

func NewMemoryDeviceTokenStore() *MemoryDeviceTokenStore {
	return &MemoryDeviceTokenStore{tokens: make(map[string]chat.DeviceToken)}
}

func (s *MemoryDeviceTokenStore) TokensFor(_ context.Context, ids []chat.Identity) ([]chat.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[chat.Identity]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []chat.DeviceToken
	for _, t := range s.tokens {
		if wanted[t.OwnerID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryDeviceTokenStore) Register(_ context.Context, token chat.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = token
	return nil
}

func (s *MemoryDeviceTokenStore) DeleteToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}
