// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookiePrefix prefixes the name of every state cookie.
const CookiePrefix = "oauth_state_"

// ErrBindingMismatch means the browser did not present the cookie set
// when the attempt started, or presented one for another attempt.
var ErrBindingMismatch = errors.New("oauth state cookie missing or mismatched")

type cookiePayload struct {
	CodeVerifier string `json:"code_verifier"`
}

// CookieBinder ties a connection attempt to the browser that started it.
// The cookie value is encrypted and authenticated, so the verifier is
// never readable by scripts or by the user agent.
type CookieBinder struct {
	codec  *securecookie.SecureCookie
	secure bool
	maxAge int
}

// NewCookieBinder derives the signing and encryption keys from secret.
// The cookie lives as long as the state record, ttl, which defaults to
// DefaultTTL when not positive. Set secure to false only for plain-http
// local development.
func NewCookieBinder(secret []byte, ttl time.Duration, secure bool) *CookieBinder {
	hashKey := sha256.Sum256(append([]byte("weaver-state-hash:"), secret...))
	blockKey := sha256.Sum256(append([]byte("weaver-state-block:"), secret...))

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxAge := int(ttl.Seconds())
	codec := securecookie.New(hashKey[:], blockKey[:])
	codec.MaxAge(maxAge)
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &CookieBinder{codec: codec, secure: secure, maxAge: maxAge}
}

// CookieName returns the cookie name for state.
func CookieName(state string) string {
	return CookiePrefix + state
}

// Bind sets the state cookie carrying verifier.
func (b *CookieBinder) Bind(w http.ResponseWriter, state, verifier string) error {
	name := CookieName(state)
	value, err := b.codec.Encode(name, cookiePayload{CodeVerifier: verifier})
	if err != nil {
		return fmt.Errorf("encoding state cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   b.maxAge,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Verify checks that r carries the cookie for rec and that it holds the
// same verifier as the server-side record.
func (b *CookieBinder) Verify(r *http.Request, rec *Record) error {
	name := CookieName(rec.State)
	c, err := r.Cookie(name)
	if err != nil {
		return ErrBindingMismatch
	}

	var p cookiePayload
	if err := b.codec.Decode(name, c.Value, &p); err != nil {
		return fmt.Errorf("%w: %w", ErrBindingMismatch, err)
	}
	if subtle.ConstantTimeCompare([]byte(p.CodeVerifier), []byte(rec.CodeVerifier)) != 1 {
		return ErrBindingMismatch
	}
	return nil
}

// Clear expires the cookie for state.
func (b *CookieBinder) Clear(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(state),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
