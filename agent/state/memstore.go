package state

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps sessions in process memory. Suitable for tests and
// single-instance local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Memory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Memory)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Memory, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrMemoryNotFound
	}
	return mem.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, mem *Memory) error {
	if mem == nil {
		return ErrNilMemory
	}
	if strings.TrimSpace(mem.SessionID) == "" {
		return ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[mem.SessionID] = mem.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
