// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: map[string]*Record{},
		now:     now,
	}
}

// Put stores rec until now+ttl. Expired records are purged on the way.
func (s *MemoryStore) Put(_ context.Context, rec *Record, ttl time.Duration) error {
	now := s.now()
	r, err := normalize(rec, now, ttl)
	if err != nil {
		return fmt.Errorf("storing state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.records {
		if !now.Before(v.ExpiresAt) {
			delete(s.records, k)
		}
	}
	if _, exists := s.records[r.State]; exists {
		return fmt.Errorf("storing state: duplicate state")
	}
	s.records[r.State] = r
	return nil
}

// Take removes and returns the record for state.
func (s *MemoryStore) Take(_ context.Context, state string) (*Record, error) {
	s.mu.Lock()
	r, ok := s.records[state]
	delete(s.records, state)
	s.mu.Unlock()

	if !ok || !s.now().Before(r.ExpiresAt) {
		return nil, ErrNotFound
	}
	return r, nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ Store = (*MemoryStore)(nil)
