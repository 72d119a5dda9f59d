// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package statestore keeps the short-lived records that tie an OAuth
// callback back to the connection attempt that started it.
package statestore

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a connection attempt stays redeemable.
const DefaultTTL = 10 * time.Minute

// Completion modes of a connection attempt.
const (
	ModeRedirect = "redirect"
	ModePopup    = "popup"
)

// ErrNotFound is returned when a state is unknown, already consumed or
// expired.
var ErrNotFound = errors.New("oauth state not found or expired")

// Record is the server-side half of one connection attempt.
type Record struct {
	State        string
	Platform     string
	UserID       string
	CodeVerifier string
	RedirectTo   string
	Mode         string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Store persists records for a bounded time. Take is an atomic
// remove-and-return: a state can be redeemed at most once.
type Store interface {
	Put(ctx context.Context, rec *Record, ttl time.Duration) error
	Take(ctx context.Context, state string) (*Record, error)
}

// normalize fills the timestamps and mode of rec for a Put at now.
func normalize(rec *Record, now time.Time, ttl time.Duration) (*Record, error) {
	if rec == nil || rec.State == "" {
		return nil, errors.New("state is required")
	}
	if rec.CodeVerifier == "" {
		return nil, errors.New("code verifier is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := *rec
	if r.Mode == "" {
		r.Mode = ModeRedirect
	}
	r.CreatedAt = now
	r.ExpiresAt = now.Add(ttl)
	return &r, nil
}
