package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-process maps. Used by tests so the
// upload engine's correctness can be exercised without touching disk.
type MemoryStore struct {
	mu        sync.RWMutex
	chunks    map[string]map[int][]byte
	artifacts map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:    make(map[string]map[int][]byte),
		artifacts: make(map[string][]byte),
	}
}

func (s *MemoryStore) WriteChunk(ctx context.Context, token string, index int, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading chunk data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chunks[token] == nil {
		s.chunks[token] = make(map[int][]byte)
	}
	s.chunks[token][index] = data
	return int64(len(data)), nil
}

func (s *MemoryStore) ListChunks(ctx context.Context, token string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices := make([]int, 0, len(s.chunks[token]))
	for idx := range s.chunks[token] {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *MemoryStore) ReadChunk(ctx context.Context, token string, index int) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.chunks[token][index]
	if !exists {
		return nil, fmt.Errorf("chunk not found: %s/%d", token, index)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) DeleteChunks(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chunks, token)
	return nil
}

func (s *MemoryStore) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	// Buffer fully before publishing so a failed read never replaces the
	// prior artifact, matching the visibility contract of the rename on disk.
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading artifact data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts[name] = data
	return int64(len(data)), nil
}

func (s *MemoryStore) Read(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.artifacts[name]
	if !exists {
		return nil, 0, fmt.Errorf("artifact not found: %s", name)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.artifacts, name)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.artifacts[name]
	return exists, nil
}
