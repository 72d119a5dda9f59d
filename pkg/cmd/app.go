// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/callback"
	"github.com/Danse117/weaver/pkg/config"
	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/connector/tiktok"
	"github.com/Danse117/weaver/pkg/credentials"
	"github.com/Danse117/weaver/pkg/dashboard"
	"github.com/Danse117/weaver/pkg/logging"
	"github.com/Danse117/weaver/pkg/ratelimit"
	"github.com/Danse117/weaver/pkg/server"
	"github.com/Danse117/weaver/pkg/statestore"
	"github.com/Danse117/weaver/pkg/storage"
)

type accountStore interface {
	account.Store
	account.MetricsCache
}

// app holds the services built from one configuration.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer
	db        *sql.DB

	providers *connector.Registry
	accounts  accountStore
	states    statestore.Store
	creds     *credentials.Manager
	dashboard *dashboard.Service
	callback  *callback.Orchestrator
	cleanup   func(context.Context) (int64, error)
}

// newApp validates cfg and wires the stores and services it describes.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}
	a.log, a.logCloser = logging.New(cfg.Log)

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := storage.Open(ctx, cfg.Storage.Path)
		if err != nil {
			a.logCloser.Close() //nolint:errcheck
			return nil, err
		}
		a.db = db
		a.accounts = account.NewSQLiteStore(db, nil)
		states := statestore.NewSQLiteStore(db, nil)
		a.states = states
		a.cleanup = states.CleanupExpired
	default:
		a.log.Warn().Msg("using in-memory storage, connected accounts are lost on restart")
		a.accounts = account.NewMemoryStore(nil)
		a.states = statestore.NewMemoryStore(nil)
	}

	a.providers = connector.NewRegistry(
		tiktok.NewClient(cfg.TikTok.TikTok(),
			tiktok.WithLimiter(ratelimit.New(cfg.RateLimit.Budget, cfg.RateLimit.Window)),
		),
	)

	creds, err := credentials.NewManager(a.accounts, a.providers,
		credentials.WithLogger(a.log.With().Str("component", "credentials").Logger()),
	)
	if err != nil {
		a.Close() //nolint:errcheck
		return nil, err
	}
	a.creds = creds

	a.dashboard = dashboard.New(creds, a.accounts, a.accounts,
		dashboard.WithCacheMaxAge(cfg.Metrics.CacheMaxAge),
		dashboard.WithLogger(a.log.With().Str("component", "dashboard").Logger()),
	)
	a.callback = callback.New(a.states, a.providers, a.accounts, cfg.RedirectURI,
		callback.WithLogger(a.log.With().Str("component", "callback").Logger()),
	)
	return a, nil
}

// server builds the HTTP server over the app services.
func (a *app) server() (*server.Server, error) {
	return server.New(server.Deps{
		Config:      a.cfg,
		Providers:   a.providers,
		States:      a.states,
		Cookies:     statestore.NewCookieBinder(a.cfg.CookieSecret(), a.cfg.State.TTL, a.cfg.State.SecureCookie),
		Callback:    a.callback,
		Accounts:    a.accounts,
		Credentials: a.creds,
		Dashboard:   a.dashboard,
		Logger:      a.log,
		Cleanup:     a.cleanup,
	})
}

// requirePersistent fails for the in-memory backend, where the CLI would
// only ever see an empty store.
func (a *app) requirePersistent() error {
	if a.db == nil {
		return errors.New("account commands require the sqlite storage backend")
	}
	return nil
}

// Close releases the database and the log file.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
