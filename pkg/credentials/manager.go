// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package credentials keeps the provider tokens of connected accounts
// usable: it refreshes them ahead of expiry, retries once when a provider
// rejects a token, and revokes them when an account is disconnected.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/metrics"
)

// DefaultRefreshMargin is how long before expiry a token is refreshed.
const DefaultRefreshMargin = 5 * time.Minute

// ErrReconnectRequired means the account tokens can no longer be renewed
// and the user has to go through the connection flow again.
var ErrReconnectRequired = errors.New("account must be reconnected")

// CallFunc is a provider call made with a usable access token.
type CallFunc func(ctx context.Context, p connector.Provider, accessToken string) error

// Manager manages the token lifecycle of connected accounts.
type Manager struct {
	accounts  account.Store
	providers *connector.Registry
	margin    time.Duration
	now       func() time.Time
	log       zerolog.Logger

	// refreshes coalesces concurrent refreshes of one account, so a
	// rotated refresh token is only ever presented once.
	refreshes singleflight.Group
}

// NewManager creates a new credentials manager.
func NewManager(accounts account.Store, providers *connector.Registry, opts ...Option) (*Manager, error) {
	if accounts == nil {
		return nil, errors.New("account store is required")
	}
	if providers == nil {
		return nil, errors.New("provider registry is required")
	}

	m := &Manager{
		accounts:  accounts,
		providers: providers,
		margin:    DefaultRefreshMargin,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Token returns the account with an access token that is valid for at
// least the refresh margin when possible. When a due refresh fails but
// the current token has not expired yet, the current token is returned.
func (m *Manager) Token(ctx context.Context, userID, accountID string) (*account.Account, error) {
	a, err := m.accounts.Get(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if !a.Tokens.ExpiresWithin(now, m.margin) {
		return a, nil
	}

	refreshed, err := m.Refresh(ctx, a)
	if err == nil {
		return refreshed, nil
	}
	if !a.Tokens.Expired(now) {
		m.log.Warn().Err(err).
			Str("account", a.ID).Str("platform", a.Platform).
			Time("expires_at", a.Tokens.ExpiresAt).
			Msg("proactive token refresh failed, using current token")
		return a, nil
	}
	if errors.Is(err, ErrReconnectRequired) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrReconnectRequired, err)
}

// Refresh renews the tokens of a unconditionally, unless another caller
// already rotated them since a was loaded, in which case the rotated
// tokens are returned.
func (m *Manager) Refresh(ctx context.Context, a *account.Account) (*account.Account, error) {
	v, err, _ := m.refreshes.Do(a.ID, func() (any, error) {
		// Detached from the caller: others may be waiting on this flight.
		return m.refresh(context.WithoutCancel(ctx), a)
	})
	if err != nil {
		return nil, err
	}
	return v.(*account.Account).Clone(), nil
}

func (m *Manager) refresh(ctx context.Context, stale *account.Account) (*account.Account, error) {
	current, err := m.accounts.GetByID(ctx, stale.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading account: %w", err)
	}

	now := m.now()
	if current.Tokens.AccessToken != stale.Tokens.AccessToken && !current.Tokens.Expired(now) {
		return current, nil
	}

	if current.Tokens.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrReconnectRequired)
	}
	if rx := current.Tokens.RefreshExpiresAt; !rx.IsZero() && !now.Before(rx) {
		return nil, fmt.Errorf("%w: refresh token expired at %s", ErrReconnectRequired, rx.Format(time.RFC3339))
	}

	provider, err := m.providers.Get(current.Platform)
	if err != nil {
		return nil, err
	}

	ts, err := provider.Refresh(ctx, current.Tokens.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(current.Platform, metrics.OutcomeFailure).Inc()
		if ee, ok := connector.AsExchangeError(err); ok {
			m.log.Warn().
				Str("account", current.ID).Str("platform", current.Platform).
				Str("code", ee.Code).Str("log_id", ee.LogID).
				Msg(ee.Message)
			// The provider rejected the refresh token itself.
			return nil, fmt.Errorf("%w: %w", ErrReconnectRequired, err)
		}
		return nil, fmt.Errorf("refreshing %s token: %w", current.Platform, err)
	}

	if ts.OpenID == "" {
		ts.OpenID = current.PlatformUserID
	}
	if len(ts.Scopes) == 0 {
		ts.Scopes = current.Tokens.Scopes
	}
	if err := m.accounts.UpdateTokens(ctx, current.ID, *ts); err != nil {
		metrics.TokenRefreshes.WithLabelValues(current.Platform, metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("storing refreshed tokens: %w", err)
	}
	metrics.TokenRefreshes.WithLabelValues(current.Platform, metrics.OutcomeSuccess).Inc()

	m.log.Debug().
		Str("account", current.ID).Str("platform", current.Platform).
		Time("expires_at", ts.ExpiresAt).
		Msg("refreshed provider tokens")

	current.Tokens = *ts
	return current, nil
}

// Do runs fn with a usable access token for the account. When the
// provider rejects the token, the tokens are refreshed and fn is retried
// exactly once. Rate limit errors are returned untouched.
func (m *Manager) Do(ctx context.Context, userID, accountID string, fn CallFunc) error {
	a, err := m.Token(ctx, userID, accountID)
	if err != nil {
		return err
	}
	provider, err := m.providers.Get(a.Platform)
	if err != nil {
		return err
	}

	err = fn(ctx, provider, a.Tokens.AccessToken)
	if err == nil || !connector.IsUnauthorized(err) {
		return err
	}

	m.log.Info().Str("account", a.ID).Str("platform", a.Platform).Msg("provider rejected token, refreshing")
	refreshed, rerr := m.Refresh(ctx, a)
	if rerr != nil {
		if errors.Is(rerr, ErrReconnectRequired) {
			return rerr
		}
		return fmt.Errorf("%w: %w", ErrReconnectRequired, rerr)
	}

	err = fn(ctx, provider, refreshed.Tokens.AccessToken)
	if connector.IsUnauthorized(err) {
		return fmt.Errorf("%w: %w", ErrReconnectRequired, err)
	}
	return err
}

// Disconnect revokes the account tokens at the provider and deletes the
// account. A failed revocation is logged and does not stop the deletion.
func (m *Manager) Disconnect(ctx context.Context, userID, accountID string) error {
	a, err := m.accounts.Get(ctx, userID, accountID)
	if err != nil {
		return err
	}

	if provider, err := m.providers.Get(a.Platform); err != nil {
		m.log.Warn().Err(err).Str("account", a.ID).Msg("cannot revoke tokens")
	} else if err := provider.Revoke(ctx, a.Tokens.AccessToken); err != nil {
		m.log.Warn().Err(err).Str("account", a.ID).Str("platform", a.Platform).Msg("token revocation failed")
	}

	if err := m.accounts.Delete(ctx, userID, accountID); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	m.log.Info().Str("account", a.ID).Str("platform", a.Platform).Msg("account disconnected")
	return nil
}
