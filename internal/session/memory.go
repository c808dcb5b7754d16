package session

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements Store with an in-process map. Used by tests and by
// dev deployments that do not need sessions to survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Record),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.sessions[token]
	if !exists {
		return nil, nil
	}
	recCopy := *rec
	return &recCopy, nil
}

func (s *MemoryStore) GetByOwner(ctx context.Context, ownerAccountID, category string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.sessions {
		if rec.OwnerAccountID == ownerAccountID && rec.Category == category {
			recCopy := *rec
			return &recCopy, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[rec.Token]; exists {
		return fmt.Errorf("session already exists: %s", rec.Token)
	}
	recCopy := *rec
	s.sessions[rec.Token] = &recCopy
	return nil
}

func (s *MemoryStore) SetCompleted(ctx context.Context, token string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[token]
	if !exists {
		return fmt.Errorf("session not found: %s", token)
	}
	rec.Completed = completed
	return nil
}

func (s *MemoryStore) SetThumbnailHash(ctx context.Context, token, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[token]
	if !exists {
		return fmt.Errorf("session not found: %s", token)
	}
	rec.ThumbnailHash = hash
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}
