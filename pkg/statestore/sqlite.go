// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps records in the oauth_flow_state table.
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

// Put inserts rec with an expiry of now+ttl.
func (s *SQLiteStore) Put(ctx context.Context, rec *Record, ttl time.Duration) error {
	r, err := normalize(rec, s.now(), ttl)
	if err != nil {
		return fmt.Errorf("storing state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_flow_state (state, platform, user_id, code_verifier, redirect_to, mode, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.State, r.Platform, r.UserID, r.CodeVerifier, r.RedirectTo, r.Mode,
		r.CreatedAt.UnixMilli(), r.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("storing state: %w", err)
	}
	return nil
}

// Take deletes and returns the record in one statement, so two
// concurrent callbacks cannot both redeem it. An expired row is
// consumed too.
func (s *SQLiteStore) Take(ctx context.Context, state string) (*Record, error) {
	var (
		r                    Record
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM oauth_flow_state WHERE state = ?
		RETURNING state, platform, user_id, code_verifier, redirect_to, mode, created_at, expires_at`,
		state).Scan(&r.State, &r.Platform, &r.UserID, &r.CodeVerifier, &r.RedirectTo, &r.Mode, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking state: %w", err)
	}

	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if !s.now().Before(r.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &r, nil
}

// CleanupExpired removes every expired record and returns how many.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_flow_state WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired states: %w", err)
	}
	return res.RowsAffected()
}

var _ Store = (*SQLiteStore)(nil)
