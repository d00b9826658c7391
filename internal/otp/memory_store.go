package otp

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get returns the record for subjectID or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, subjectID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Put stores rec, replacing any earlier record for the subject.
func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.SubjectID] = *rec
	return nil
}

// Delete removes the subject's record. Missing records are not an error.
func (s *MemoryStore) Delete(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, subjectID)
	return nil
}

// Len returns the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
