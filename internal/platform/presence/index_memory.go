package presence

import (
	"context"
	"sync"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// MemoryIndex is an in-process Index for tests and single-instance local
// mode.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[chat.Identity]ConnectionInfo
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[chat.Identity]ConnectionInfo)}
}

func (s *MemoryIndex) Set(_ context.Context, id chat.Identity, info ConnectionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = info
	return nil
}

func (s *MemoryIndex) Delete(_ context.Context, id chat.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryIndex) IsOnline(_ context.Context, id chat.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok, nil
}
