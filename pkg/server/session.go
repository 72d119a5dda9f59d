// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Danse117/weaver/pkg/config"
)

type contextKey string

const userContextKey contextKey = "user"

// UserID returns the session user stored by the session middleware, or
// an empty string.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userContextKey).(string)
	return id
}

// WithUserID returns a context carrying the session user.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// sessionVerifier checks access tokens issued by the backend-as-a-service.
type sessionVerifier struct {
	secret   []byte
	audience string
	cookie   string
}

func newSessionVerifier(cfg config.SessionConfig) *sessionVerifier {
	return &sessionVerifier{
		secret:   []byte(cfg.JWTSecret),
		audience: cfg.Audience,
		cookie:   cfg.Cookie,
	}
}

// tokenFrom reads the bearer token, falling back to the session cookie.
func (v *sessionVerifier) tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if v.cookie == "" {
		return ""
	}
	if c, err := r.Cookie(v.cookie); err == nil {
		return c.Value
	}
	return ""
}

// verify returns the subject of a valid token.
func (v *sessionVerifier) verify(token string) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("no session secret configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// session resolves the user of the request. With required set, requests
// without a valid session are answered with 401.
func (s *Server) session(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := s.sessions.tokenFrom(r)
			if token == "" {
				if required {
					writeError(w, http.StatusUnauthorized, "no_authorization", "Authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			sub, err := s.sessions.verify(token)
			if err != nil {
				if required {
					writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}
