// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Danse117/weaver/pkg/connector"
)

const accountColumns = `id, user_id, platform, platform_user_id, username, display_name, avatar_url,
	access_token, refresh_token, token_type, token_expires_at, refresh_expires_at, scopes,
	metadata, created_at, updated_at`

// SQLiteStore keeps accounts in the connected_accounts table and metrics
// snapshots in account_metrics.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore returns a store over db, whose schema must already be
// migrated. A nil clock means time.Now.
func NewSQLiteStore(db *sql.DB, now func() time.Time) *SQLiteStore {
	if now == nil {
		now = time.Now
	}
	return &SQLiteStore{db: db, now: now}
}

func (s *SQLiteStore) Upsert(ctx context.Context, a *Account) (*Account, error) {
	if err := validate(a); err != nil {
		return nil, err
	}
	meta, err := marshalMetadata(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	now := s.now().UnixMilli()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO connected_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, platform, platform_user_id) DO UPDATE SET
			username           = excluded.username,
			display_name       = excluded.display_name,
			avatar_url         = excluded.avatar_url,
			access_token       = excluded.access_token,
			refresh_token      = excluded.refresh_token,
			token_type         = excluded.token_type,
			token_expires_at   = excluded.token_expires_at,
			refresh_expires_at = excluded.refresh_expires_at,
			scopes             = excluded.scopes,
			metadata           = excluded.metadata,
			updated_at         = excluded.updated_at
		RETURNING `+accountColumns,
		uuid.NewString(), a.UserID, a.Platform, a.PlatformUserID, a.Username, a.DisplayName, a.AvatarURL,
		a.Tokens.AccessToken, a.Tokens.RefreshToken, a.Tokens.TokenType,
		unixMilli(a.Tokens.ExpiresAt), unixMilli(a.Tokens.RefreshExpiresAt),
		strings.Join(a.Tokens.Scopes, ","), meta, now, now)

	stored, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("upserting account: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE id = ? AND user_id = ?`, id, userID)
	return s.scanOne(row)
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE id = ?`, id)
	return s.scanOne(row)
}

func (s *SQLiteStore) scanOne(row *sql.Row) (*Account, error) {
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []*Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connected_accounts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return expectOne(res)
}

// UpdateTokens writes the whole token set in one statement, so readers
// see either the old set or the new one.
func (s *SQLiteStore) UpdateTokens(ctx context.Context, id string, ts connector.TokenSet) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connected_accounts SET
			access_token = ?, refresh_token = ?, token_type = ?,
			token_expires_at = ?, refresh_expires_at = ?, scopes = ?, updated_at = ?
		WHERE id = ?`,
		ts.AccessToken, ts.RefreshToken, ts.TokenType,
		unixMilli(ts.ExpiresAt), unixMilli(ts.RefreshExpiresAt),
		strings.Join(ts.Scopes, ","), s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	return expectOne(res)
}

func (s *SQLiteStore) CacheMetrics(ctx context.Context, accountID, kind string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_metrics (account_id, kind, data, fetched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, kind) DO UPDATE SET data = excluded.data, fetched_at = excluded.fetched_at`,
		accountID, kind, data, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("caching metrics: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CachedMetrics(ctx context.Context, accountID, kind string, maxAge time.Duration) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM account_metrics WHERE account_id = ? AND kind = ? AND fetched_at >= ?`,
		accountID, kind, s.now().Add(-maxAge).UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading cached metrics: %w", err)
	}
	return data, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a                           Account
		expiresAt, refreshExpiresAt int64
		createdAt, updatedAt        int64
		scopes, meta                string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Platform, &a.PlatformUserID, &a.Username, &a.DisplayName, &a.AvatarURL,
		&a.Tokens.AccessToken, &a.Tokens.RefreshToken, &a.Tokens.TokenType, &expiresAt, &refreshExpiresAt, &scopes,
		&meta, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a.Tokens.OpenID = a.PlatformUserID
	a.Tokens.ExpiresAt = fromMilli(expiresAt)
	a.Tokens.RefreshExpiresAt = fromMilli(refreshExpiresAt)
	a.Tokens.Scopes = connector.ParseScopes(scopes)
	a.CreatedAt = fromMilli(createdAt)
	a.UpdatedAt = fromMilli(updatedAt)

	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	a.Metadata = m
	return &a, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var (
	_ Store        = (*SQLiteStore)(nil)
	_ MetricsCache = (*SQLiteStore)(nil)
)
