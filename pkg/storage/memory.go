package storage

import (
	"fmt"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store for testing. Records are
// copied on the way in and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns the record for key, or ErrNotFound.
func (s *MemoryStore) Get(key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// Put writes the record for rec.Key.
func (s *MemoryStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	s.records[rec.Key] = copyRecord(rec)
	return nil
}

// Delete removes the record for key.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	delete(s.records, key)
	return nil
}

// Usage reports record count and summed snapshot sizes.
func (s *MemoryStore) Usage() (*Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	var used int64
	for _, rec := range s.records {
		used += int64(len(rec.Snapshot))
	}
	return &Usage{UsedBytes: used, Records: len(s.records)}, nil
}

// Close marks the store closed. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyRecord(rec *Record) *Record {
	out := &Record{
		Key:       rec.Key,
		Timestamp: rec.Timestamp,
	}
	if rec.Snapshot != nil {
		out.Snapshot = make([]byte, len(rec.Snapshot))
		copy(out.Snapshot, rec.Snapshot)
	}
	return out
}
