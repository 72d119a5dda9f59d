// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package storage opens the SQLite database shared by the account and
// OAuth state stores.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite"
)

const (
	appDirName = "weaver"
	dbFileName = "weaver.db"
	dirPerm    = 0o700 // User-only directory permissions
)

// DefaultPath returns the database location under XDG_DATA_HOME.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, appDirName, dbFileName)
}

// Open opens (creating if needed) the database at path and brings its
// schema up to date. Foreign keys and WAL are enabled on every pooled
// connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode()
}
