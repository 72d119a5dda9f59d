// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit keeps a request budget per access token so weaver
// stays under the provider's published per-token limits.
package ratelimit

import (
	"crypto/sha256"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBudget is the number of requests allowed per window.
	DefaultBudget = 600

	// DefaultWindow is the budget window.
	DefaultWindow = time.Minute
)

// Limiter decides whether one more request may be sent for a key.
type Limiter interface {
	Allow(key string) bool
}

// entry is one key's budget for the window starting at windowStart. Its
// bucket has a zero refill rate, so it admits at most budget requests
// until it is replaced when the window ends.
type entry struct {
	limiter     *rate.Limiter
	windowStart time.Time
	lastSeen    time.Time
}

// KeyedLimiter holds a fixed-window budget per key: budget requests, then
// nothing until window has passed since the first request of the window.
// Keys are hashed before they are stored, so raw tokens are never retained.
type KeyedLimiter struct {
	mu      sync.Mutex
	budget  int
	window  time.Duration
	entries map[[sha256.Size]byte]*entry
	now     func() time.Time

	lastPrune time.Time
}

// Option configures a KeyedLimiter.
type Option func(*KeyedLimiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *KeyedLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a limiter allowing budget requests per window for each key.
// Non-positive values fall back to the defaults.
func New(budget int, window time.Duration, opts ...Option) *KeyedLimiter {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &KeyedLimiter{
		budget:  budget,
		window:  window,
		entries: map[[sha256.Size]byte]*entry{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one slot for key and reports whether it was available.
func (l *KeyedLimiter) Allow(key string) bool {
	h := sha256.Sum256([]byte(key))
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	e, ok := l.entries[h]
	if !ok || !now.Before(e.windowStart.Add(l.window)) {
		e = &entry{
			limiter:     rate.NewLimiter(0, l.budget),
			windowStart: now,
		}
		l.entries[h] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// pruneLocked drops keys idle for longer than a window. Their window has
// ended, so forgetting them changes nothing. Runs at most once per window.
func (l *KeyedLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	l.lastPrune = now
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.window {
			delete(l.entries, k)
		}
	}
}

var _ Limiter = (*KeyedLimiter)(nil)
