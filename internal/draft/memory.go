package draft

import (
	"context"
	"sync"
)

// Memory keeps drafts in process. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}}
}

func (m *Memory) ForSession(sessionID string) Cache {
	return &memorySession{mem: m, prefix: sessionID + ":"}
}

type memorySession struct {
	mem    *Memory
	prefix string
}

func (s *memorySession) Read(_ context.Context, key string) (Entry, bool, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	entry, ok := s.mem.entries[s.prefix+key]
	return entry, ok, nil
}

func (s *memorySession) Write(_ context.Context, key string, entry Entry) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.entries[s.prefix+key] = entry
	return nil
}

func (s *memorySession) Clear(_ context.Context, key string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	delete(s.mem.entries, s.prefix+key)
	return nil
}
