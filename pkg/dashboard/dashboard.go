// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package dashboard serves the account data shown on the dashboard:
// profile counters and videos, read through the credentials manager and
// cached per account.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/credentials"
)

// Snapshot is a profile with its counters as of FetchedAt.
type Snapshot struct {
	Profile   *connector.Profile `json:"profile"`
	FetchedAt time.Time          `json:"fetched_at"`
	Cached    bool               `json:"cached"`
}

// Service reads account data from the providers.
type Service struct {
	creds    *credentials.Manager
	accounts account.Store
	cache    account.MetricsCache
	maxAge   time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCacheMaxAge sets how long cached snapshots are served.
func WithCacheMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New returns a dashboard service.
func New(creds *credentials.Manager, accounts account.Store, cache account.MetricsCache, opts ...Option) *Service {
	s := &Service{
		creds:    creds,
		accounts: accounts,
		cache:    cache,
		maxAge:   account.DefaultMetricsMaxAge,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the account profile, from cache when fresh enough.
func (s *Service) Profile(ctx context.Context, userID, accountID string) (*Snapshot, error) {
	if _, err := s.accounts.Get(ctx, userID, accountID); err != nil {
		return nil, err
	}

	if snap, ok := s.cachedProfile(ctx, accountID); ok {
		return snap, nil
	}
	return s.fetchProfile(ctx, userID, accountID)
}

// Videos returns one page of the account's videos.
func (s *Service) Videos(ctx context.Context, userID, accountID string, cursor int64) (*connector.VideoPage, error) {
	var page *connector.VideoPage
	err := s.creds.Do(ctx, userID, accountID, func(ctx context.Context, p connector.Provider, token string) error {
		vp, ok := p.(connector.VideoProvider)
		if !ok {
			return fmt.Errorf("%w: %s has no video catalog", connector.ErrUnsupportedPlatform, p.Name())
		}
		var err error
		page, err = vp.ListVideos(ctx, token, cursor, 20)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// QueryVideos returns the account's videos with the given ids.
func (s *Service) QueryVideos(ctx context.Context, userID, accountID string, ids []string) ([]connector.Video, error) {
	var videos []connector.Video
	err := s.creds.Do(ctx, userID, accountID, func(ctx context.Context, p connector.Provider, token string) error {
		vp, ok := p.(connector.VideoProvider)
		if !ok {
			return fmt.Errorf("%w: %s has no video catalog", connector.ErrUnsupportedPlatform, p.Name())
		}
		var err error
		videos, err = vp.QueryVideos(ctx, token, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return videos, nil
}

// Sync bypasses the cache: it fetches the profile and the first page of
// videos and caches both.
func (s *Service) Sync(ctx context.Context, userID, accountID string) (*Snapshot, error) {
	var (
		snap *Snapshot
		page *connector.VideoPage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.fetchProfile(gctx, userID, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		page, err = s.Videos(gctx, userID, accountID, 0)
		if errors.Is(err, connector.ErrUnsupportedPlatform) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if page != nil {
		s.store(ctx, accountID, account.KindVideoPerformance, page)
	}
	return snap, nil
}

func (s *Service) fetchProfile(ctx context.Context, userID, accountID string) (*Snapshot, error) {
	var profile *connector.Profile
	err := s.creds.Do(ctx, userID, accountID, func(ctx context.Context, p connector.Provider, token string) error {
		var err error
		profile, err = p.FetchProfile(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Profile: profile, FetchedAt: s.now().UTC()}
	s.store(ctx, accountID, account.KindProfileStats, snap)
	return snap, nil
}

func (s *Service) cachedProfile(ctx context.Context, accountID string) (*Snapshot, bool) {
	data, ok, err := s.cache.CachedMetrics(ctx, accountID, account.KindProfileStats, s.maxAge)
	if err != nil {
		s.log.Warn().Err(err).Str("account", accountID).Msg("reading metrics cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn().Err(err).Str("account", accountID).Msg("discarding unreadable metrics snapshot")
		return nil, false
	}
	snap.Cached = true
	return &snap, true
}

// store writes a snapshot to the cache. Failures are logged, not returned.
func (s *Service) store(ctx context.Context, accountID, kind string, v any) {
	data, err := json.Marshal(v)
	if err == nil {
		err = s.cache.CacheMetrics(ctx, accountID, kind, data)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("account", accountID).Str("kind", kind).Msg("caching metrics")
	}
}
