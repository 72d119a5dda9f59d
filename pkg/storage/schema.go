// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Timestamps are stored as unix milliseconds so expiry comparisons work
// in SQL and against an injected clock alike.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS oauth_flow_state (
		state         TEXT PRIMARY KEY,
		platform      TEXT NOT NULL,
		user_id       TEXT NOT NULL DEFAULT '',
		code_verifier TEXT NOT NULL,
		redirect_to   TEXT NOT NULL DEFAULT '',
		mode          TEXT NOT NULL DEFAULT 'redirect',
		created_at    INTEGER NOT NULL,
		expires_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_flow_state_expires ON oauth_flow_state(expires_at)`,

	`CREATE TABLE IF NOT EXISTS connected_accounts (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		platform           TEXT NOT NULL,
		platform_user_id   TEXT NOT NULL,
		username           TEXT NOT NULL DEFAULT '',
		display_name       TEXT NOT NULL DEFAULT '',
		avatar_url         TEXT NOT NULL DEFAULT '',
		access_token       TEXT NOT NULL,
		refresh_token      TEXT NOT NULL DEFAULT '',
		token_type         TEXT NOT NULL DEFAULT '',
		token_expires_at   INTEGER NOT NULL,
		refresh_expires_at INTEGER NOT NULL DEFAULT 0,
		scopes             TEXT NOT NULL DEFAULT '',
		metadata           TEXT NOT NULL DEFAULT '{}',
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL,
		UNIQUE (user_id, platform, platform_user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_connected_accounts_user ON connected_accounts(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS account_metrics (
		account_id TEXT NOT NULL REFERENCES connected_accounts(id) ON DELETE CASCADE,
		kind       TEXT NOT NULL,
		data       BLOB NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (account_id, kind)
	)`,
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying migration: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}
