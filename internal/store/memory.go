package store

import (
	"context"
	"sync"
)

// MemoryBlobStore keeps blobs in a map. It backs tests and local single
// process deployments where audio is served straight from the gateway.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = buf
	return "/audio/" + key, nil
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

type memoryDoc struct {
	data    []byte
	version int64
}

// MemoryDocStore is the in-memory DocStore used by tests and local runs.
type MemoryDocStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*memoryDoc
}

func NewMemoryDocStore() *MemoryDocStore {
	return &MemoryDocStore{docs: make(map[string]map[string]*memoryDoc)}
}

func (s *MemoryDocStore) Create(_ context.Context, collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]*memoryDoc)
		s.docs[collection] = coll
	}
	if _, exists := coll[id]; exists {
		return ErrAlreadyExists
	}
	buf := make([]byte, len(doc))
	copy(buf, doc)
	coll[id] = &memoryDoc{data: buf, version: 1}
	return nil
}

func (s *MemoryDocStore) Get(_ context.Context, collection, id string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.docs[collection][id]
	if !ok {
		return nil, 0, ErrNotFound
	}
	buf := make([]byte, len(existing.data))
	copy(buf, existing.data)
	return buf, existing.version, nil
}

func (s *MemoryDocStore) Update(_ context.Context, collection, id string, doc []byte, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	if expectedVersion > 0 && existing.version != expectedVersion {
		return ErrConflict
	}
	buf := make([]byte, len(doc))
	copy(buf, doc)
	existing.data = buf
	existing.version++
	return nil
}
