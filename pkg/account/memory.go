// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Danse117/weaver/pkg/connector"
)

type metricsEntry struct {
	data      []byte
	fetchedAt time.Time
}

// MemoryStore is a process-local Store and MetricsCache.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	metrics  map[string]map[string]metricsEntry
	now      func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		accounts: map[string]*Account{},
		metrics:  map[string]map[string]metricsEntry{},
		now:      now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, a *Account) (*Account, error) {
	if err := validate(a); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.UserID == a.UserID && existing.Platform == a.Platform && existing.PlatformUserID == a.PlatformUserID {
			updated := a.Clone()
			updated.ID = existing.ID
			updated.CreatedAt = existing.CreatedAt
			updated.UpdatedAt = now
			s.accounts[existing.ID] = updated
			return updated.Clone(), nil
		}
	}

	created := a.Clone()
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now
	s.accounts[created.ID] = created
	return created.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, userID, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok || a.UserID != userID {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Account{}
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.UserID != userID {
		return ErrNotFound
	}
	delete(s.accounts, id)
	delete(s.metrics, id)
	return nil
}

func (s *MemoryStore) UpdateTokens(_ context.Context, id string, ts connector.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	updated := a.Clone()
	updated.Tokens = ts
	updated.Tokens.Scopes = append([]string(nil), ts.Scopes...)
	updated.UpdatedAt = s.now().UTC()
	s.accounts[id] = updated
	return nil
}

func (s *MemoryStore) CacheMetrics(_ context.Context, accountID, kind string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return fmt.Errorf("caching metrics: %w", ErrNotFound)
	}
	if s.metrics[accountID] == nil {
		s.metrics[accountID] = map[string]metricsEntry{}
	}
	s.metrics[accountID][kind] = metricsEntry{
		data:      append([]byte(nil), data...),
		fetchedAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) CachedMetrics(_ context.Context, accountID, kind string, maxAge time.Duration) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.metrics[accountID][kind]
	if !ok || s.now().Sub(e.fetchedAt) > maxAge {
		return nil, false, nil
	}
	return append([]byte(nil), e.data...), true, nil
}

func validate(a *Account) error {
	switch {
	case a == nil:
		return fmt.Errorf("account is required")
	case a.UserID == "":
		return fmt.Errorf("account user id is required")
	case a.Platform == "" || a.PlatformUserID == "":
		return fmt.Errorf("account platform identity is required")
	case a.Tokens.AccessToken == "":
		return fmt.Errorf("account access token is required")
	}
	return nil
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ MetricsCache = (*MemoryStore)(nil)
)
